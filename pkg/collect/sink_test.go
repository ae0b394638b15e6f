package collect

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nicktill/meshstats/pkg/breaker"
	"github.com/nicktill/meshstats/pkg/client"
	"github.com/nicktill/meshstats/pkg/metrics"
	"github.com/nicktill/meshstats/pkg/report"
	"github.com/nicktill/meshstats/pkg/sample"
	"github.com/nicktill/meshstats/pkg/series"
	"github.com/nicktill/meshstats/pkg/server"
	"github.com/nicktill/meshstats/pkg/storage/memory"
	"github.com/nicktill/meshstats/pkg/transport"
)

func TestRepeater_PushesToServer(t *testing.T) {
	store := memory.New()
	defer store.Close()
	registry := metrics.DefaultRegistry()
	srv := server.New(server.Deps{
		Store:      store,
		Registry:   registry,
		Aggregator: report.NewAggregator(store, registry, report.WithLocation(time.UTC)),
		Loader:     series.NewLoader(store, registry, nil, nil),
		Port:       "8080",
	})
	httpSrv := httptest.NewServer(srv.Routes())
	defer httpSrv.Close()

	ctrl := gomock.NewController(t)
	dev := transport.NewMockClient(ctrl)
	dev.EXPECT().Run(gomock.Any(), transport.CmdRepeaterStatus).
		Return(transport.Response{Fields: sample.Fields{"bat": 3950, "nb_recv": 40}}, nil)

	cfg := testConfig()
	cfg.TelemetryEnabled = false
	cb := breaker.New(filepath.Join(t.TempDir(), breaker.StateFile))
	c := New(dev, client.New(httpSrv.URL, nil), cb, transport.NewLock(""), cfg,
		WithClock(func() time.Time { return collectedAt }))

	out := c.Repeater(context.Background())
	require.Equal(t, Collected, out.Status, out.Err)
	require.Equal(t, 2, out.Inserted)

	latest, err := store.Latest(context.Background(), sample.Repeater)
	require.NoError(t, err)
	require.Equal(t, collectedAt.Unix(), latest.Timestamp)
	require.Equal(t, 3950.0, latest.Values["bat"])
}
