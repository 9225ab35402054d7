package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/realtime/model"
	"github.com/coregx/realtime/webhook"
)

// ---- shared fakes for the realtime package tests ----

type fakeChannelRepo struct {
	mu       sync.Mutex
	byID     map[string]model.Channel
	byName   map[string]model.Channel
	loadErr  error
	getErr   error
	creates  []model.Channel
	updates  []model.Channel
	deletes  []model.Channel
}

func newFakeChannelRepo(channels ...model.Channel) *fakeChannelRepo {
	r := &fakeChannelRepo{
		byID:   make(map[string]model.Channel),
		byName: make(map[string]model.Channel),
	}
	for _, ch := range channels {
		r.byID[ch.ID] = ch
		r.byName[ch.Name] = ch
	}
	return r
}

func (r *fakeChannelRepo) Load(_ context.Context, id string) (model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return model.Channel{}, r.loadErr
	}
	ch, ok := r.byID[id]
	if !ok {
		return model.Channel{}, ErrNoData
	}
	return ch, nil
}

func (r *fakeChannelRepo) GetByName(_ context.Context, name string) (model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return model.Channel{}, r.getErr
	}
	ch, ok := r.byName[name]
	if !ok {
		return model.Channel{}, ErrNoData
	}
	return ch, nil
}

func (r *fakeChannelRepo) List(_ context.Context) ([]model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]model.Channel, 0, len(r.byID))
	for _, ch := range r.byID {
		channels = append(channels, ch)
	}
	return channels, nil
}

func (r *fakeChannelRepo) Create(_ context.Context, ch model.Channel) (model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, ch)
	r.byID[ch.ID] = ch
	r.byName[ch.Name] = ch
	return ch, nil
}

func (r *fakeChannelRepo) Update(_ context.Context, ch model.Channel) (model.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, ch)
	r.byID[ch.ID] = ch
	r.byName[ch.Name] = ch
	return ch, nil
}

func (r *fakeChannelRepo) Delete(_ context.Context, ch model.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deletes = append(r.deletes, ch)
	delete(r.byID, ch.ID)
	delete(r.byName, ch.Name)
	return nil
}

type statsCall struct {
	id    string
	stats model.DeliveryStats
}

type fakeMessageRepo struct {
	mu         sync.Mutex
	created    []model.Message
	statsCalls []statsCall
	createErr  error
	updateErr  error
}

func (r *fakeMessageRepo) Load(_ context.Context, id string) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.created {
		if m.ID == id {
			return m, nil
		}
	}
	return model.Message{}, ErrNoData
}

func (r *fakeMessageRepo) Create(_ context.Context, m model.Message) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return m, r.createErr
	}
	r.created = append(r.created, m)
	return m, nil
}

func (r *fakeMessageRepo) List(_ context.Context, _ MessageFilter) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.created) == 0 {
		return nil, ErrNoData
	}
	return append([]model.Message(nil), r.created...), nil
}

func (r *fakeMessageRepo) Stats(_ context.Context, _ MessageFilter) (model.MessageStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.MessageStats{TotalCount: len(r.created)}, nil
}

func (r *fakeMessageRepo) UpdateDeliveryStats(_ context.Context, id string, stats model.DeliveryStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.statsCalls = append(r.statsCalls, statsCall{id: id, stats: stats})
	return nil
}

func (r *fakeMessageRepo) DeleteOlderThan(_ context.Context, _ int) (int, error) {
	return 0, nil
}

func (r *fakeMessageRepo) lastStatsCall() (statsCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statsCalls) == 0 {
		return statsCall{}, false
	}
	return r.statsCalls[len(r.statsCalls)-1], true
}

type broadcastCall struct {
	room    string
	event   string
	payload json.RawMessage
}

// fakeRegistry records the order of registry calls so tests can assert the
// audience is counted before the broadcast goes out.
type fakeRegistry struct {
	mu         sync.Mutex
	sizes      map[string]int
	broadcasts []broadcastCall
	callOrder  []string
}

func newFakeRegistry(sizes map[string]int) *fakeRegistry {
	if sizes == nil {
		sizes = make(map[string]int)
	}
	return &fakeRegistry{sizes: sizes}
}

func (r *fakeRegistry) BroadcastToRoom(room, eventName string, payload json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcastCall{room: room, event: eventName, payload: payload})
	r.callOrder = append(r.callOrder, "broadcast")
	// Anyone joining mid-broadcast is not part of the counted audience
	r.sizes[room]++
}

func (r *fakeRegistry) RoomSize(room string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callOrder = append(r.callOrder, "size")
	return r.sizes[room]
}

type senderCall struct {
	urls  []string
	event webhook.Event
}

type fakeSender struct {
	mu      sync.Mutex
	calls   []senderCall
	results func(urls []string) []webhook.Delivery
}

func (s *fakeSender) SendToAll(_ context.Context, urls []string, event webhook.Event) []webhook.Delivery {
	s.mu.Lock()
	s.calls = append(s.calls, senderCall{urls: urls, event: event})
	s.mu.Unlock()

	if s.results != nil {
		return s.results(urls)
	}
	results := make([]webhook.Delivery, len(urls))
	for i, u := range urls {
		results[i] = webhook.Delivery{URL: u, Success: true, StatusCode: 200}
	}
	return results
}

func newTestDispatcher(t *testing.T, channels *fakeChannelRepo, messages *fakeMessageRepo, registry *fakeRegistry, sender *fakeSender) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(
		WithDispatcherRepositories(channels, messages),
		WithDispatcherRegistry(registry),
		WithDispatcherWebhookSender(sender),
		WithDispatcherLogger(&NoopLogger{}),
	)
	require.NoError(t, err)
	return d
}

// ---- dispatcher tests ----

func TestNewDispatcher_RequiredOptions(t *testing.T) {
	channels := newFakeChannelRepo()
	messages := &fakeMessageRepo{}
	registry := newFakeRegistry(nil)
	sender := &fakeSender{}

	tests := []struct {
		name string
		opts []DispatcherOption
	}{
		{
			name: "No options",
			opts: nil,
		},
		{
			name: "Missing registry",
			opts: []DispatcherOption{
				WithDispatcherRepositories(channels, messages),
				WithDispatcherWebhookSender(sender),
				WithDispatcherLogger(&NoopLogger{}),
			},
		},
		{
			name: "Missing webhook sender",
			opts: []DispatcherOption{
				WithDispatcherRepositories(channels, messages),
				WithDispatcherRegistry(registry),
				WithDispatcherLogger(&NoopLogger{}),
			},
		},
		{
			name: "Missing logger",
			opts: []DispatcherOption{
				WithDispatcherRepositories(channels, messages),
				WithDispatcherRegistry(registry),
				WithDispatcherWebhookSender(sender),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDispatcher(tt.opts...)
			assert.Error(t, err)
		})
	}
}

// A backend service emits an order event: every room member and every webhook
// target is attempted, and the counts reflect what actually happened.
func TestDispatcher_Dispatch_SystemEventFullFanOut(t *testing.T) {
	ch := model.NewChannel("orders", "")
	ch.WebhookURLs = []string{"https://a.example.com/hook", "https://b.example.com/hook"}

	channels := newFakeChannelRepo(ch)
	messages := &fakeMessageRepo{}
	registry := newFakeRegistry(map[string]int{"orders": 2})
	sender := &fakeSender{
		results: func(urls []string) []webhook.Delivery {
			// First target succeeds, second times out
			return []webhook.Delivery{
				{URL: urls[0], Success: true, StatusCode: 200},
				{URL: urls[1], Success: false, Err: webhook.ErrTimeout},
			}
		},
	}
	d := newTestDispatcher(t, channels, messages, registry, sender)

	env := model.Envelope{
		MessageID:   "msg-1",
		ChannelID:   ch.ID,
		ChannelName: "orders",
		EventName:   "order.created",
		Payload:     json.RawMessage(`{"orderId":42}`),
	}

	stats, err := d.Dispatch(context.Background(), env, ch)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.WSAudienceCount)
	assert.Equal(t, 2, stats.WHAudienceCount)
	assert.Equal(t, 1, stats.WHDeliveredCount)

	// One broadcast to the channel room with the untouched payload
	require.Len(t, registry.broadcasts, 1)
	assert.Equal(t, "orders", registry.broadcasts[0].room)
	assert.Equal(t, "order.created", registry.broadcasts[0].event)
	assert.JSONEq(t, `{"orderId":42}`, string(registry.broadcasts[0].payload))

	// One webhook fan-out carrying the envelope fields
	require.Len(t, sender.calls, 1)
	assert.Equal(t, ch.WebhookURLs, sender.calls[0].urls)
	assert.Equal(t, "msg-1", sender.calls[0].event.MessageID)
	assert.Equal(t, "orders", sender.calls[0].event.Channel)
}

func TestDispatcher_Dispatch_AudienceCountedBeforeBroadcast(t *testing.T) {
	ch := model.NewChannel("chat", "")

	registry := newFakeRegistry(map[string]int{"chat": 3})
	d := newTestDispatcher(t, newFakeChannelRepo(ch), &fakeMessageRepo{}, registry, &fakeSender{})

	env := model.Envelope{MessageID: "m", ChannelID: ch.ID, ChannelName: "chat", EventName: "e"}
	stats, err := d.Dispatch(context.Background(), env, ch)
	require.NoError(t, err)

	// The fake bumps the room size on broadcast; a count taken after the
	// broadcast would read 4
	assert.Equal(t, 3, stats.WSAudienceCount)
	require.GreaterOrEqual(t, len(registry.callOrder), 2)
	assert.Equal(t, "size", registry.callOrder[0])
}

func TestDispatcher_Dispatch_DisabledChannel(t *testing.T) {
	ch := model.NewChannel("orders", "")
	ch.Enabled = false
	ch.WebhookURLs = []string{"https://a.example.com/hook"}

	registry := newFakeRegistry(map[string]int{"orders": 5})
	sender := &fakeSender{}
	d := newTestDispatcher(t, newFakeChannelRepo(ch), &fakeMessageRepo{}, registry, sender)

	env := model.Envelope{MessageID: "m", ChannelID: ch.ID, ChannelName: "orders", EventName: "e"}
	_, err := d.Dispatch(context.Background(), env, ch)

	require.Error(t, err)
	var rtErr *Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, ErrCodeChannelDisabled, rtErr.Code)

	// Nothing was delivered anywhere
	assert.Empty(t, registry.broadcasts)
	assert.Empty(t, sender.calls)
}

func TestDispatcher_Dispatch_NoWebhookTargets(t *testing.T) {
	ch := model.NewChannel("chat", "")

	sender := &fakeSender{}
	d := newTestDispatcher(t, newFakeChannelRepo(ch), &fakeMessageRepo{}, newFakeRegistry(nil), sender)

	env := model.Envelope{MessageID: "m", ChannelID: ch.ID, ChannelName: "chat", EventName: "e"}
	stats, err := d.Dispatch(context.Background(), env, ch)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.WHAudienceCount)
	assert.Equal(t, 0, stats.WHDeliveredCount)
	assert.Empty(t, sender.calls)
}

// A user sends a chat message on a public-write channel: it is persisted,
// broadcast to the room, and webhooks stay quiet even though the channel has
// targets configured.
func TestDispatcher_Publish_ClientMessage(t *testing.T) {
	ch := model.NewChannel("chat", "")
	ch.PublicWrite = true
	ch.WebhookURLs = []string{"https://hooks.example.com/chat"}

	channels := newFakeChannelRepo(ch)
	messages := &fakeMessageRepo{}
	registry := newFakeRegistry(map[string]int{"chat": 3})
	sender := &fakeSender{}
	d := newTestDispatcher(t, channels, messages, registry, sender)

	result, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "chat",
		EventName:   "msg",
		Payload:     json.RawMessage(`{"text":"hi"}`),
		CallerID:    "user-7",
		CallerRole:  model.RoleAuthenticated,
	})
	require.NoError(t, err)

	// Message persisted as a client message
	require.Len(t, messages.created, 1)
	msg := messages.created[0]
	assert.Equal(t, result.MessageID, msg.ID)
	assert.Equal(t, model.SenderClient, msg.SenderType)
	assert.Equal(t, "chat", msg.ChannelName)
	assert.JSONEq(t, `{"text":"hi"}`, msg.Payload)

	// Broadcast reached the room
	require.Len(t, registry.broadcasts, 1)
	assert.Equal(t, "chat", registry.broadcasts[0].room)

	// Client publishes never fire webhooks
	assert.Empty(t, sender.calls)
	assert.Equal(t, 3, result.Stats.WSAudienceCount)
	assert.Equal(t, 0, result.Stats.WHAudienceCount)
	assert.Equal(t, 0, result.Stats.WHDeliveredCount)

	// Counters written back to the created message
	call, ok := messages.lastStatsCall()
	require.True(t, ok)
	assert.Equal(t, msg.ID, call.id)
	assert.Equal(t, result.Stats, call.stats)
}

func TestDispatcher_Publish_AdminOnPrivateChannel(t *testing.T) {
	ch := model.NewChannel("orders", "")

	messages := &fakeMessageRepo{}
	d := newTestDispatcher(t, newFakeChannelRepo(ch), messages, newFakeRegistry(nil), &fakeSender{})

	_, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "orders",
		EventName:   "order.note",
		CallerRole:  model.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Len(t, messages.created, 1)
}

func TestDispatcher_Publish_Unauthorized(t *testing.T) {
	ch := model.NewChannel("orders", "") // PublicWrite defaults to false

	messages := &fakeMessageRepo{}
	registry := newFakeRegistry(nil)
	d := newTestDispatcher(t, newFakeChannelRepo(ch), messages, registry, &fakeSender{})

	_, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "orders",
		EventName:   "msg",
		CallerRole:  model.RoleAuthenticated,
	})

	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	// Denial persists and delivers nothing
	assert.Empty(t, messages.created)
	assert.Empty(t, registry.broadcasts)
	_, ok := messages.lastStatsCall()
	assert.False(t, ok)
}

func TestDispatcher_Publish_DisabledChannelDenied(t *testing.T) {
	ch := model.NewChannel("orders", "")
	ch.Enabled = false
	ch.PublicWrite = true

	messages := &fakeMessageRepo{}
	d := newTestDispatcher(t, newFakeChannelRepo(ch), messages, newFakeRegistry(nil), &fakeSender{})

	_, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "orders",
		EventName:   "msg",
		CallerRole:  model.RoleAdmin,
	})

	assert.True(t, IsUnauthorized(err))
	assert.Empty(t, messages.created)
}

func TestDispatcher_Publish_ChannelNotFound(t *testing.T) {
	d := newTestDispatcher(t, newFakeChannelRepo(), &fakeMessageRepo{}, newFakeRegistry(nil), &fakeSender{})

	_, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "nope",
		EventName:   "msg",
		CallerRole:  model.RoleAdmin,
	})

	assert.True(t, IsNoData(err))
	assert.False(t, IsUnauthorized(err))
}

func TestDispatcher_Publish_Validation(t *testing.T) {
	d := newTestDispatcher(t, newFakeChannelRepo(), &fakeMessageRepo{}, newFakeRegistry(nil), &fakeSender{})

	tests := []struct {
		name string
		req  PublishRequest
	}{
		{name: "Missing channel name", req: PublishRequest{EventName: "msg"}},
		{name: "Missing event name", req: PublishRequest{ChannelName: "chat"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Publish(context.Background(), tt.req)
			require.Error(t, err)
			var rtErr *Error
			require.ErrorAs(t, err, &rtErr)
			assert.Equal(t, ErrCodeValidation, rtErr.Code)
		})
	}
}

func TestDispatcher_Publish_EmptyPayloadBecomesNull(t *testing.T) {
	ch := model.NewChannel("chat", "")
	ch.PublicWrite = true

	messages := &fakeMessageRepo{}
	d := newTestDispatcher(t, newFakeChannelRepo(ch), messages, newFakeRegistry(nil), &fakeSender{})

	_, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "chat",
		EventName:   "ping",
		CallerRole:  model.RoleAuthenticated,
	})
	require.NoError(t, err)

	require.Len(t, messages.created, 1)
	assert.Equal(t, "null", messages.created[0].Payload)
}

func TestDispatcher_Publish_StatsWriteFailureIsNotFatal(t *testing.T) {
	ch := model.NewChannel("chat", "")
	ch.PublicWrite = true

	messages := &fakeMessageRepo{updateErr: NewError(ErrCodeDatabase, "disk on fire")}
	d := newTestDispatcher(t, newFakeChannelRepo(ch), messages, newFakeRegistry(nil), &fakeSender{})

	result, err := d.Publish(context.Background(), PublishRequest{
		ChannelName: "chat",
		EventName:   "msg",
		CallerRole:  model.RoleAuthenticated,
	})

	// The message was delivered; only the counter write-back failed
	require.NoError(t, err)
	assert.NotEmpty(t, result.MessageID)
}

func TestDispatcher_Dispatch_WebhookFailureNotifies(t *testing.T) {
	ch := model.NewChannel("orders", "")
	ch.WebhookURLs = []string{"https://dead.example.com/hook"}

	var notified []webhook.Delivery
	notifier := &recordingNotificationService{onWebhookFailure: func(d webhook.Delivery) {
		notified = append(notified, d)
	}}

	sender := &fakeSender{
		results: func(urls []string) []webhook.Delivery {
			return []webhook.Delivery{{URL: urls[0], Success: false, StatusCode: 503}}
		},
	}

	d, err := NewDispatcher(
		WithDispatcherRepositories(newFakeChannelRepo(ch), &fakeMessageRepo{}),
		WithDispatcherRegistry(newFakeRegistry(nil)),
		WithDispatcherWebhookSender(sender),
		WithDispatcherLogger(&NoopLogger{}),
		WithDispatcherNotifications(notifier),
	)
	require.NoError(t, err)

	env := model.Envelope{MessageID: "m", ChannelID: ch.ID, ChannelName: "orders", EventName: "e"}
	stats, err := d.Dispatch(context.Background(), env, ch)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.WHDeliveredCount)
	require.Len(t, notified, 1)
	assert.Equal(t, "https://dead.example.com/hook", notified[0].URL)
}

// recordingNotificationService captures operational alerts for assertions.
type recordingNotificationService struct {
	mu               sync.Mutex
	listenerDown     []int
	onWebhookFailure func(webhook.Delivery)
}

func (s *recordingNotificationService) NotifyListenerDown(_ context.Context, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenerDown = append(s.listenerDown, attempts)
	return nil
}

func (s *recordingNotificationService) NotifyWebhookFailure(_ context.Context, _ model.Channel, d webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onWebhookFailure != nil {
		s.onWebhookFailure(d)
	}
	return nil
}

func (s *recordingNotificationService) downCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listenerDown)
}
