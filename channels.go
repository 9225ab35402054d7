package realtime

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/coregx/realtime/model"
)

// ChannelService manages the channel directory and is the single policy
// decision point for join/send authorization.
//
// Key operations:
//   - Create/Update/Delete: administrative channel management with validation
//   - Get/GetByName/List: channel lookup
//   - CheckPermission: data-driven join/send policy evaluation
//
// Channel names are immutable after creation: the name is the WebSocket room
// key and is embedded into persisted messages, so renames would orphan both.
//
// Thread safety: safe for concurrent use.
type ChannelService struct {
	channelRepo ChannelRepository
	logger      Logger
}

// ChannelServiceOption is a function that configures a ChannelService.
type ChannelServiceOption func(*ChannelService) error

// NewChannelService creates a new ChannelService with the provided options.
//
// Required options:
//   - WithChannelRepository: channel repository
//   - WithChannelServiceLogger: logger instance
func NewChannelService(opts ...ChannelServiceOption) (*ChannelService, error) {
	s := &ChannelService{}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply channel service option", err)
		}
	}

	// Validate required dependencies
	if s.channelRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "ChannelRepository is required (use WithChannelRepository)")
	}
	if s.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithChannelServiceLogger)")
	}

	return s, nil
}

// WithChannelRepository sets the required channel repository.
func WithChannelRepository(channelRepo ChannelRepository) ChannelServiceOption {
	return func(s *ChannelService) error {
		if channelRepo == nil {
			return fmt.Errorf("channelRepo cannot be nil")
		}
		s.channelRepo = channelRepo
		return nil
	}
}

// WithChannelServiceLogger sets the logger instance.
func WithChannelServiceLogger(logger Logger) ChannelServiceOption {
	return func(s *ChannelService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// CreateChannelInput represents a request to create a channel.
type CreateChannelInput struct {
	Name        string   `json:"name"`        // Unique routing name (required, immutable)
	Description string   `json:"description"` // Purpose and usage details
	WebhookURLs []string `json:"webhookUrls"` // Absolute http(s) delivery targets
	PublicWrite bool     `json:"publicWrite"` // Allow non-admin sends
	Enabled     *bool    `json:"enabled"`     // Defaults to true when omitted
}

// Validate checks the input fields. Webhook URLs must be well-formed
// absolute URLs.
func (in CreateChannelInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 128)),
		validation.Field(&in.Description, validation.Length(0, 1024)),
		validation.Field(&in.WebhookURLs, validation.Each(validation.Required, is.URL)),
	)
}

// UpdateChannelInput represents a partial update of a channel.
// Nil fields are left unchanged. The name is not updatable.
type UpdateChannelInput struct {
	Description *string   `json:"description"`
	WebhookURLs *[]string `json:"webhookUrls"`
	PublicWrite *bool     `json:"publicWrite"`
	Enabled     *bool     `json:"enabled"`
}

// Validate checks the set fields.
func (in UpdateChannelInput) Validate() error {
	if in.WebhookURLs != nil {
		for _, u := range *in.WebhookURLs {
			if err := validation.Validate(u, validation.Required, is.URL); err != nil {
				return fmt.Errorf("webhook URL %q: %w", u, err)
			}
		}
	}
	if in.Description != nil {
		if err := validation.Validate(*in.Description, validation.Length(0, 1024)); err != nil {
			return fmt.Errorf("description: %w", err)
		}
	}
	return nil
}

// Create creates a new channel. The name must be unique; a conflict is a
// validation error, not a database fault.
func (s *ChannelService) Create(ctx context.Context, in CreateChannelInput) (*model.Channel, error) {
	if err := in.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid channel input", err)
	}

	// Enforce name uniqueness before inserting
	if _, err := s.channelRepo.GetByName(ctx, in.Name); err == nil {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("channel name already exists: %s", in.Name))
	} else if !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to check channel name", err)
	}

	ch := model.NewChannel(in.Name, in.Description)
	ch.WebhookURLs = in.WebhookURLs
	ch.PublicWrite = in.PublicWrite
	if in.Enabled != nil {
		ch.Enabled = *in.Enabled
	}

	ch, err := s.channelRepo.Create(ctx, ch)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save channel", err)
	}

	s.logger.Infof("channel created: id=%s name=%s enabled=%t webhooks=%d",
		ch.ID, ch.Name, ch.Enabled, len(ch.WebhookURLs))

	return &ch, nil
}

// Update applies a partial update to an existing channel.
func (s *ChannelService) Update(ctx context.Context, id string, in UpdateChannelInput) (*model.Channel, error) {
	if id == "" {
		return nil, NewError(ErrCodeValidation, "channel ID is required")
	}
	if err := in.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid channel input", err)
	}

	ch, err := s.channelRepo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", id), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	if in.Description != nil {
		ch.Description = *in.Description
	}
	if in.WebhookURLs != nil {
		ch.WebhookURLs = *in.WebhookURLs
	}
	if in.PublicWrite != nil {
		ch.PublicWrite = *in.PublicWrite
	}
	if in.Enabled != nil {
		ch.Enabled = *in.Enabled
	}
	ch.Touch()

	ch, err = s.channelRepo.Update(ctx, ch)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save channel", err)
	}

	s.logger.Infof("channel updated: id=%s name=%s enabled=%t", ch.ID, ch.Name, ch.Enabled)

	return &ch, nil
}

// Delete removes a channel. Persisted messages keep their channel name
// snapshot and remain queryable.
func (s *ChannelService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return NewError(ErrCodeValidation, "channel ID is required")
	}

	ch, err := s.channelRepo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", id), err)
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	if err := s.channelRepo.Delete(ctx, ch); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to delete channel", err)
	}

	s.logger.Infof("channel deleted: id=%s name=%s", ch.ID, ch.Name)
	return nil
}

// Get retrieves a channel by ID.
func (s *ChannelService) Get(ctx context.Context, id string) (*model.Channel, error) {
	if id == "" {
		return nil, NewError(ErrCodeValidation, "channel ID is required")
	}

	ch, err := s.channelRepo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", id), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	return &ch, nil
}

// GetByName retrieves a channel by its routing name.
func (s *ChannelService) GetByName(ctx context.Context, name string) (*model.Channel, error) {
	if name == "" {
		return nil, NewError(ErrCodeValidation, "channel name is required")
	}

	ch, err := s.channelRepo.GetByName(ctx, name)
	if err != nil {
		if IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", name), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	return &ch, nil
}

// List returns all channels.
// Returns an empty slice if none exist (not an error).
func (s *ChannelService) List(ctx context.Context) ([]model.Channel, error) {
	channels, err := s.channelRepo.List(ctx)
	if err != nil {
		if IsNoData(err) {
			return []model.Channel{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list channels", err)
	}
	return channels, nil
}

// CheckPermission evaluates whether a caller with the given role holds a
// capability on the named channel. Policy is data-driven from the channel
// configuration: any caller may join an enabled channel; sends require the
// channel's public-write flag or an administrative role.
//
// Denial is a valid boolean outcome, distinguished from "channel not found",
// which is returned as a NO_DATA error.
func (s *ChannelService) CheckPermission(ctx context.Context, channelName string, capability model.Capability, role string) (bool, error) {
	ch, err := s.channelRepo.GetByName(ctx, channelName)
	if err != nil {
		if IsNoData(err) {
			return false, NewErrorWithCause(ErrCodeNoData, fmt.Sprintf("channel not found: %s", channelName), err)
		}
		return false, NewErrorWithCause(ErrCodeDatabase, "failed to load channel", err)
	}

	return ch.Can(capability, role), nil
}
