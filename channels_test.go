package realtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/realtime/model"
)

func newTestChannelService(t *testing.T, repo *fakeChannelRepo) *ChannelService {
	t.Helper()
	svc, err := NewChannelService(
		WithChannelRepository(repo),
		WithChannelServiceLogger(&NoopLogger{}),
	)
	require.NoError(t, err)
	return svc
}

func TestNewChannelService_RequiredOptions(t *testing.T) {
	_, err := NewChannelService()
	assert.Error(t, err)

	_, err = NewChannelService(WithChannelRepository(newFakeChannelRepo()))
	assert.Error(t, err)

	_, err = NewChannelService(WithChannelServiceLogger(&NoopLogger{}))
	assert.Error(t, err)
}

func TestChannelService_Create(t *testing.T) {
	repo := newFakeChannelRepo()
	svc := newTestChannelService(t, repo)

	ch, err := svc.Create(context.Background(), CreateChannelInput{
		Name:        "orders",
		Description: "Order lifecycle events",
		WebhookURLs: []string{"https://hooks.example.com/orders"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, "orders", ch.Name)
	assert.Equal(t, "Order lifecycle events", ch.Description)
	assert.Equal(t, []string{"https://hooks.example.com/orders"}, ch.WebhookURLs)
	assert.True(t, ch.Enabled)
	assert.False(t, ch.PublicWrite)

	require.Len(t, repo.creates, 1)
}

func TestChannelService_Create_EnabledOverride(t *testing.T) {
	repo := newFakeChannelRepo()
	svc := newTestChannelService(t, repo)

	disabled := false
	ch, err := svc.Create(context.Background(), CreateChannelInput{
		Name:    "staging",
		Enabled: &disabled,
	})
	require.NoError(t, err)
	assert.False(t, ch.Enabled)
}

func TestChannelService_Create_DuplicateName(t *testing.T) {
	existing := model.NewChannel("orders", "")
	repo := newFakeChannelRepo(existing)
	svc := newTestChannelService(t, repo)

	_, err := svc.Create(context.Background(), CreateChannelInput{Name: "orders"})

	require.Error(t, err)
	var rtErr *Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, ErrCodeValidation, rtErr.Code)
	assert.Empty(t, repo.creates)
}

func TestChannelService_Create_Validation(t *testing.T) {
	svc := newTestChannelService(t, newFakeChannelRepo())

	tests := []struct {
		name  string
		input CreateChannelInput
	}{
		{name: "Empty name", input: CreateChannelInput{}},
		{name: "Name too long", input: CreateChannelInput{Name: string(make([]byte, 129))}},
		{name: "Bad webhook URL", input: CreateChannelInput{Name: "ok", WebhookURLs: []string{"not a url"}}},
		{name: "Empty webhook URL", input: CreateChannelInput{Name: "ok", WebhookURLs: []string{""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.input)
			require.Error(t, err)
			var rtErr *Error
			require.ErrorAs(t, err, &rtErr)
			assert.Equal(t, ErrCodeValidation, rtErr.Code)
		})
	}
}

func TestChannelService_Update_PartialFields(t *testing.T) {
	existing := model.NewChannel("orders", "old description")
	repo := newFakeChannelRepo(existing)
	svc := newTestChannelService(t, repo)

	newDesc := "new description"
	ch, err := svc.Update(context.Background(), existing.ID, UpdateChannelInput{
		Description: &newDesc,
	})
	require.NoError(t, err)

	// Only the set field changed
	assert.Equal(t, "new description", ch.Description)
	assert.Equal(t, "orders", ch.Name)
	assert.True(t, ch.Enabled)
	assert.False(t, ch.PublicWrite)
	assert.False(t, ch.UpdatedAt.Before(existing.UpdatedAt))
}

func TestChannelService_Update_AllFields(t *testing.T) {
	existing := model.NewChannel("chat", "")
	repo := newFakeChannelRepo(existing)
	svc := newTestChannelService(t, repo)

	desc := "general chat"
	urls := []string{"https://hooks.example.com/chat"}
	public := true
	disabled := false
	ch, err := svc.Update(context.Background(), existing.ID, UpdateChannelInput{
		Description: &desc,
		WebhookURLs: &urls,
		PublicWrite: &public,
		Enabled:     &disabled,
	})
	require.NoError(t, err)

	assert.Equal(t, desc, ch.Description)
	assert.Equal(t, urls, ch.WebhookURLs)
	assert.True(t, ch.PublicWrite)
	assert.False(t, ch.Enabled)
}

func TestChannelService_Update_NotFound(t *testing.T) {
	svc := newTestChannelService(t, newFakeChannelRepo())

	desc := "x"
	_, err := svc.Update(context.Background(), "missing-id", UpdateChannelInput{Description: &desc})
	assert.True(t, IsNoData(err))
}

func TestChannelService_Update_BadWebhookURL(t *testing.T) {
	existing := model.NewChannel("orders", "")
	svc := newTestChannelService(t, newFakeChannelRepo(existing))

	urls := []string{"ftp://nope"}
	_, err := svc.Update(context.Background(), existing.ID, UpdateChannelInput{WebhookURLs: &urls})

	require.Error(t, err)
	var rtErr *Error
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, ErrCodeValidation, rtErr.Code)
}

func TestChannelService_Delete(t *testing.T) {
	existing := model.NewChannel("orders", "")
	repo := newFakeChannelRepo(existing)
	svc := newTestChannelService(t, repo)

	require.NoError(t, svc.Delete(context.Background(), existing.ID))
	require.Len(t, repo.deletes, 1)

	err := svc.Delete(context.Background(), existing.ID)
	assert.True(t, IsNoData(err))
}

func TestChannelService_GetAndGetByName(t *testing.T) {
	existing := model.NewChannel("orders", "")
	svc := newTestChannelService(t, newFakeChannelRepo(existing))

	ch, err := svc.Get(context.Background(), existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, ch.ID)

	ch, err = svc.GetByName(context.Background(), "orders")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, ch.ID)

	_, err = svc.Get(context.Background(), "nope")
	assert.True(t, IsNoData(err))

	_, err = svc.GetByName(context.Background(), "nope")
	assert.True(t, IsNoData(err))
}

func TestChannelService_List_EmptyIsNotAnError(t *testing.T) {
	svc := newTestChannelService(t, newFakeChannelRepo())

	channels, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, channels)
}

func TestChannelService_CheckPermission(t *testing.T) {
	private := model.NewChannel("orders", "")
	public := model.NewChannel("chat", "")
	public.PublicWrite = true
	disabled := model.NewChannel("dark", "")
	disabled.Enabled = false

	svc := newTestChannelService(t, newFakeChannelRepo(private, public, disabled))

	tests := []struct {
		name       string
		channel    string
		capability model.Capability
		role       string
		allowed    bool
	}{
		{name: "Anyone joins enabled channel", channel: "orders", capability: model.CapabilityJoin, role: model.RoleAuthenticated, allowed: true},
		{name: "Nobody joins disabled channel", channel: "dark", capability: model.CapabilityJoin, role: model.RoleAdmin, allowed: false},
		{name: "Authenticated cannot send on private channel", channel: "orders", capability: model.CapabilitySend, role: model.RoleAuthenticated, allowed: false},
		{name: "Admin sends on private channel", channel: "orders", capability: model.CapabilitySend, role: model.RoleAdmin, allowed: true},
		{name: "Authenticated sends on public-write channel", channel: "chat", capability: model.CapabilitySend, role: model.RoleAuthenticated, allowed: true},
		{name: "Nobody sends on disabled channel", channel: "dark", capability: model.CapabilitySend, role: model.RoleAdmin, allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, err := svc.CheckPermission(context.Background(), tt.channel, tt.capability, tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
		})
	}
}

func TestChannelService_CheckPermission_UnknownChannel(t *testing.T) {
	svc := newTestChannelService(t, newFakeChannelRepo())

	_, err := svc.CheckPermission(context.Background(), "nope", model.CapabilityJoin, model.RoleAdmin)
	assert.True(t, IsNoData(err))
}
