package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notice struct {
	CrawlID string `json:"crawl_id"`
	Records int    `json:"records"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"crawl_id": n.CrawlID}
}

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "registry-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisherPublish(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "crawl-complete")
	require.NoError(t, err)

	pub := New(client)
	defer pub.Stop()

	id, err := pub.Publish(ctx, "crawl-complete", notice{CrawlID: "c-1", Records: 42})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "c-1", msgs[0].Attributes["crawl_id"])

	var got notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, 42, got.Records)

	_, err = pub.Publish(ctx, "crawl-complete", map[string]int{"records": 1})
	require.NoError(t, err)
	require.Len(t, srv.Messages(), 2)
	require.Len(t, pub.topics, 1)
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := New(nil).Publish(ctx, "t", "x")
	require.Error(t, err)

	client, _ := newTestClient(t)
	pub := New(client)
	defer pub.Stop()

	_, err = pub.Publish(ctx, "", "x")
	require.Error(t, err)

	_, err = pub.Publish(ctx, "missing-topic", "x")
	require.Error(t, err)

	_, err = pub.Publish(ctx, "missing-topic", make(chan int))
	require.ErrorContains(t, err, "marshal")
}
