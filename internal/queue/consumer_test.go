package queue

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/followverify-worker/internal/logging"
	"github.com/adverant/nexus/followverify-worker/internal/processor"
)

type fakeHandler struct {
	messages  []*processor.Message
	photos    []*processor.Photo
	decisions []*processor.OperatorAction
	err       error
}

func (f *fakeHandler) HandleMessage(ctx context.Context, msg *processor.Message) error {
	f.messages = append(f.messages, msg)
	return f.err
}

func (f *fakeHandler) HandlePhoto(ctx context.Context, photo *processor.Photo) (*processor.Decision, error) {
	f.photos = append(f.photos, photo)
	if f.err != nil {
		return nil, f.err
	}
	return &processor.Decision{Action: processor.ActionEscalate}, nil
}

func (f *fakeHandler) HandleOperatorDecision(ctx context.Context, action *processor.OperatorAction) error {
	f.decisions = append(f.decisions, action)
	return f.err
}

func newTestConsumer(h *fakeHandler) *Consumer {
	return newConsumer(&ConsumerConfig{QueueName: "verification", Handler: h}, logging.NewNopLogger())
}

func TestPhotoPayloadBase64Buffer(t *testing.T) {
	var p PhotoPayload
	require.NoError(t, p.UnmarshalJSON([]byte(`{"userId":"42","fileId":"f1","imageBuffer":"aGVsbG8="}`)))
	assert.Equal(t, "42", p.UserID)
	assert.Equal(t, "f1", p.FileID)
	assert.Equal(t, []byte("hello"), p.ImageBuffer)
}

func TestPhotoPayloadNodeBuffer(t *testing.T) {
	var p PhotoPayload
	require.NoError(t, p.UnmarshalJSON([]byte(`{"userId":"42","imageBuffer":{"type":"Buffer","data":[104,105]}}`)))
	assert.Equal(t, []byte("hi"), p.ImageBuffer)
}

func TestPhotoPayloadRejectsBadBuffers(t *testing.T) {
	for name, raw := range map[string]string{
		"bad base64":    `{"userId":"42","imageBuffer":"***"}`,
		"wrong type":    `{"userId":"42","imageBuffer":{"type":"Blob","data":[1]}}`,
		"missing data":  `{"userId":"42","imageBuffer":{"type":"Buffer"}}`,
		"out of range":  `{"userId":"42","imageBuffer":{"type":"Buffer","data":[300]}}`,
		"number buffer": `{"userId":"42","imageBuffer":12}`,
	} {
		t.Run(name, func(t *testing.T) {
			var p PhotoPayload
			assert.Error(t, p.UnmarshalJSON([]byte(raw)))
		})
	}
}

func TestNewPhotoTaskEncodesBuffer(t *testing.T) {
	task, err := NewPhotoTask(&PhotoPayload{UserID: "42", ImageBuffer: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, TaskTypePhoto, task.Type())
	assert.JSONEq(t, `{"userId":"42","imageBuffer":"cG5n"}`, string(task.Payload()))
}

func TestConsumerRoutesTasks(t *testing.T) {
	h := &fakeHandler{}
	c := newTestConsumer(h)
	ctx := context.Background()

	msg, err := NewMessageTask(&MessagePayload{UserID: "42", DisplayName: "Jane", Text: "janedoe"})
	require.NoError(t, err)
	require.NoError(t, c.mux.ProcessTask(ctx, msg))

	photo, err := NewPhotoTask(&PhotoPayload{UserID: "42", FileID: "f1", ImageURL: "https://cdn/x.png"})
	require.NoError(t, err)
	require.NoError(t, c.mux.ProcessTask(ctx, photo))

	decision, err := NewDecisionTask(&DecisionPayload{OperatorID: "op-1", CallbackData: "approve:abc", MessageRef: "m1"})
	require.NoError(t, err)
	require.NoError(t, c.mux.ProcessTask(ctx, decision))

	require.Len(t, h.messages, 1)
	assert.Equal(t, &processor.Message{UserID: "42", DisplayName: "Jane", Text: "janedoe"}, h.messages[0])

	require.Len(t, h.photos, 1)
	assert.Equal(t, "f1", h.photos[0].Evidence.FileID)
	assert.Equal(t, "https://cdn/x.png", h.photos[0].Evidence.URL)

	require.Len(t, h.decisions, 1)
	assert.Equal(t, "approve:abc", h.decisions[0].CallbackData)
	assert.Equal(t, "m1", h.decisions[0].MessageRef)
}

func TestConsumerSkipsMalformedTasks(t *testing.T) {
	h := &fakeHandler{}
	c := newTestConsumer(h)

	cases := map[string]*asynq.Task{
		"invalid json":      asynq.NewTask(TaskTypeMessage, []byte("{")),
		"message no user":   asynq.NewTask(TaskTypeMessage, []byte(`{"text":"hi"}`)),
		"photo no evidence": asynq.NewTask(TaskTypePhoto, []byte(`{"userId":"42"}`)),
		"photo bad buffer":  asynq.NewTask(TaskTypePhoto, []byte(`{"userId":"42","imageBuffer":"***"}`)),
		"decision no op":    asynq.NewTask(TaskTypeDecision, []byte(`{"callbackData":"approve:x"}`)),
	}
	for name, task := range cases {
		t.Run(name, func(t *testing.T) {
			err := c.mux.ProcessTask(context.Background(), task)
			require.Error(t, err)
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}

	assert.Empty(t, h.messages)
	assert.Empty(t, h.photos)
	assert.Empty(t, h.decisions)
}

func TestConsumerRetriesHandlerErrors(t *testing.T) {
	h := &fakeHandler{err: stderrors.New("postgres down")}
	c := newTestConsumer(h)

	task, err := NewMessageTask(&MessagePayload{UserID: "42", Text: "hi"})
	require.NoError(t, err)

	err = c.mux.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestEventPublisherWrapsErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	p := NewEventPublisher(client, "")
	assert.Equal(t, DefaultEventsChannel, p.channel)

	err := p.PublishDecision(context.Background(), &processor.DecisionEvent{Type: "escalate", UserID: "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultEventsChannel)
}

func TestEventPublisherPublishesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	sub := client.Subscribe(ctx, "decisions")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := NewEventPublisher(client, "decisions")
	require.NoError(t, p.PublishDecision(ctx, &processor.DecisionEvent{
		Type:       "approved",
		UserID:     "42",
		Handle:     "janedoe",
		OperatorID: "op-7",
		Confidence: 40,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "decisions", msg.Channel)
		assert.JSONEq(t, `{"type":"approved","userId":"42","handle":"janedoe","confidence":40,"operatorId":"op-7","timestamp":"2024-05-01T12:00:00Z"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("decision event not received")
	}
}
