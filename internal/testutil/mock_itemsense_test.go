package testutil_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/itemsense-client/internal/testutil"
	"github.com/Sternrassler/itemsense-client/pkg/client"
	"github.com/Sternrassler/itemsense-client/pkg/filter"
	"github.com/Sternrassler/itemsense-client/pkg/model"
	"github.com/Sternrassler/itemsense-client/pkg/pagination"
	"github.com/Sternrassler/itemsense-client/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, mock *testutil.MockItemSense) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig(mock.URL(), "admin", "admindefault")
	cfg.RateLimit = ratelimit.Config{}
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	c, err := client.New(cfg)
	require.NoError(t, err)
	return c
}

func TestMock_StartJob(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	mock.SetCredentials("admin", "admindefault")

	resp, err := newClient(t, mock).StartJob(context.Background(), model.Job{
		RecipeName: "IMPINJ_BasicLocation",
		Duration:   time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.ID)

	jobs := mock.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "IMPINJ_BasicLocation", jobs[0].RecipeName)
	assert.Equal(t, time.Minute, jobs[0].Duration)
}

func TestMock_RejectsBadCredentials(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	mock.SetCredentials("admin", "other")

	_, err := newClient(t, mock).StartJob(context.Background(), model.Job{RecipeName: "r"})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 1, mock.GetRequestCount())
}

func TestMock_ScriptedPolls(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	mock.SetPolls(
		[][]model.Item{{{EPC: "A"}}, {{EPC: "B"}}},
		[][]model.Item{{{EPC: "C"}}},
	)
	walker := pagination.NewWalker(newClient(t, mock), pagination.DefaultConfig())

	for _, want := range [][]string{{"A", "B"}, {"C"}, {"C"}} {
		items, err := walker.FetchAll(context.Background(), filter.New())
		require.NoError(t, err)

		got := make([]string, 0, len(items))
		for _, it := range items {
			got = append(got, it.EPC)
		}
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 3, mock.Walks())
	assert.Equal(t, 4, mock.GetRequestCount())
}

func TestMock_FiltersItems(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	mock.SetPolls([][]model.Item{{
		{EPC: "3030-1", Zone: "DOCK"},
		{EPC: "3030-2", Zone: "YARD"},
		{EPC: "4040-1", Zone: "DOCK"},
	}})

	f, err := filter.Parse("epc=3030:zoneNames=DOCK")
	require.NoError(t, err)

	page, err := newClient(t, mock).ListItems(context.Background(), f)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "3030-1", page.Items[0].EPC)
	assert.False(t, page.HasNext())
}

func TestMock_FailTimes(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	mock.FailTimes(testutil.PathShowItems, 2, testutil.NewServerErrorResponse())

	page, err := newClient(t, mock).ListItems(context.Background(), filter.New())
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, mock.GetRequestCount())
}

func TestMock_SetResponse(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	mock.SetResponse(testutil.PathZoneTransitionQueue, testutil.NewJSONResponse(`{"serverUrl":"amqp://mq:5672/%2F"}`))

	_, err := newClient(t, mock).ConfigureZoneTransitionQueue(context.Background(), model.ZoneTransitionQueueConfig{})
	assert.ErrorIs(t, err, client.ErrDecodeFailed)
}

func TestMock_ReadersAndQueue(t *testing.T) {
	mock := testutil.NewMockItemSense()
	defer mock.Close()
	c := newClient(t, mock)

	def := model.ReaderDefinition{Name: "xarray-1", Address: "10.0.0.5", Type: model.ReaderTypeXArray, Facility: "HQ"}
	created, err := c.CreateReaderDefinition(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, def, *created)
	assert.Equal(t, []model.ReaderDefinition{def}, mock.Readers())

	details, err := c.ConfigureZoneTransitionQueue(context.Background(), model.ZoneTransitionQueueConfig{ToZone: "DOCK"})
	require.NoError(t, err)
	assert.Equal(t, "zone-transitions", details.Queue)

	mock.Reset()
	assert.Zero(t, mock.GetRequestCount())
	assert.Empty(t, mock.Readers())
}
