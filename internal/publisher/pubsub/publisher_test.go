package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T, topics ...string) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	client, err := pubsub.NewClient(ctx, "crawler-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	for _, topic := range topics {
		_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/crawler-test/topics/" + topic})
		require.NoError(t, err)
	}
	return client, srv
}

func TestPublishUsesDefaultTopic(t *testing.T) {
	client, srv := newFakeClient(t, "crawl-jobs", "crawler-alerts")
	pub := New(client, "projects/crawler-test/topics/crawl-jobs")
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(context.Background(), "", map[string]any{"job_id": "j-1", "status": "completed"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = pub.Publish(context.Background(), "projects/crawler-test/topics/crawler-alerts", map[string]string{"platform": "reddit"})
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &first))
	assert.Equal(t, "j-1", first["job_id"])
}

func TestPublishRequiresTopic(t *testing.T) {
	client, _ := newFakeClient(t)
	pub := New(client, "")
	_, err := pub.Publish(context.Background(), "", "payload")
	require.Error(t, err)
}

func TestPublishUnconfigured(t *testing.T) {
	_, err := (&Publisher{}).Publish(context.Background(), "t", "x")
	require.Error(t, err)
}
