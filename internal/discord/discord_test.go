package discord

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chaosring/internal/ring"
)

type fakeAPI struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	err       error
}

func (f *fakeAPI) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f.err
}

func (f *fakeAPI) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	return &discordgo.Message{}, f.err
}

func ringInteraction(name string, member *discordgo.Member, attachment *discordgo.MessageAttachment) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if attachment != nil {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Name:  optionName,
			Type:  discordgo.ApplicationCommandOptionAttachment,
			Value: attachment.ID,
		}}
		data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
			Attachments: map[string]*discordgo.MessageAttachment{attachment.ID: attachment},
		}
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:      "int-1",
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "42",
		Member:  member,
		Data:    data,
	}}
}

func TestRequestFromInteraction(t *testing.T) {
	i := ringInteraction(CommandName,
		&discordgo.Member{User: &discordgo.User{ID: "u1"}, Roles: []string{"7", "8"}},
		&discordgo.MessageAttachment{ID: "a1", URL: "https://cdn/a.png", ContentType: "image/png", Filename: "a.png", Size: 1234},
	)

	req := requestFromInteraction(i)
	assert.Equal(t, ring.Request{
		InteractionID: "int-1",
		UserID:        "u1",
		GuildID:       "42",
		Roles:         []string{"7", "8"},
		Attachment: &ring.Attachment{
			URL:         "https://cdn/a.png",
			ContentType: "image/png",
			Filename:    "a.png",
			Size:        1234,
		},
	}, req)
}

func TestRequestFromInteractionInDM(t *testing.T) {
	i := ringInteraction(CommandName, nil, nil)
	i.GuildID = ""
	i.User = &discordgo.User{ID: "u9"}

	req := requestFromInteraction(i)
	assert.Equal(t, "u9", req.UserID)
	assert.Empty(t, req.GuildID)
	assert.Nil(t, req.Roles)
	assert.Nil(t, req.Attachment)
}

func TestRequestFromInteractionUnresolvedAttachment(t *testing.T) {
	i := ringInteraction(CommandName, &discordgo.Member{User: &discordgo.User{ID: "u1"}}, &discordgo.MessageAttachment{ID: "a1"})
	i.ApplicationCommandData().Resolved.Attachments = map[string]*discordgo.MessageAttachment{}

	assert.Nil(t, requestFromInteraction(i).Attachment)
}

type recordingHandler struct {
	mu   sync.Mutex
	reqs []ring.Request
}

func (h *recordingHandler) Handle(ctx context.Context, req ring.Request, resp ring.Responder) ring.Outcome {
	h.mu.Lock()
	h.reqs = append(h.reqs, req)
	h.mu.Unlock()
	_ = resp.Reply(ctx, "handled")
	return ring.Outcome{Stage: ring.Failed}
}

func TestDispatch(t *testing.T) {
	h := &recordingHandler{}
	b := &Bot{handler: h, log: zap.NewNop()}
	api := &fakeAPI{}
	member := &discordgo.Member{User: &discordgo.User{ID: "u1"}}

	b.dispatch(api, ringInteraction(CommandName, member, nil))
	b.dispatch(api, ringInteraction("other", member, nil))
	b.dispatch(api, &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	b.wg.Wait()

	require.Len(t, h.reqs, 1)
	assert.Equal(t, "u1", h.reqs[0].UserID)
	require.Len(t, api.responses, 1)
	assert.Equal(t, "handled", api.responses[0].Data.Content)
}

func TestSessionResponder(t *testing.T) {
	api := &fakeAPI{}
	r := &sessionResponder{api: api, interaction: &discordgo.Interaction{ID: "1"}}
	ctx := context.Background()

	require.NoError(t, r.Reply(ctx, "nope"))
	require.NoError(t, r.Defer(ctx))
	require.NoError(t, r.Complete(ctx, "done", "ring.png", []byte("png")))
	require.NoError(t, r.Fail(ctx, "broken"))

	require.Len(t, api.responses, 2)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, api.responses[0].Type)
	assert.Equal(t, "nope", api.responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, api.responses[0].Data.Flags)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, api.responses[1].Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, api.responses[1].Data.Flags)

	require.Len(t, api.edits, 2)
	assert.Equal(t, "done", *api.edits[0].Content)
	require.Len(t, api.edits[0].Files, 1)
	assert.Equal(t, "ring.png", api.edits[0].Files[0].Name)
	body, err := io.ReadAll(api.edits[0].Files[0].Reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), body)
	assert.Equal(t, "broken", *api.edits[1].Content)
	assert.Empty(t, api.edits[1].Files)
}

func TestSessionResponderPropagatesErrors(t *testing.T) {
	api := &fakeAPI{err: errors.New("429")}
	r := &sessionResponder{api: api, interaction: &discordgo.Interaction{}}
	assert.Error(t, r.Defer(context.Background()))
	assert.Error(t, r.Fail(context.Background(), "x"))
}

func TestCommandShape(t *testing.T) {
	assert.Equal(t, "ring", Command.Name)
	require.Len(t, Command.Options, 1)
	assert.Equal(t, discordgo.ApplicationCommandOptionAttachment, Command.Options[0].Type)
	assert.True(t, Command.Options[0].Required)
}

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New("", "", &recordingHandler{}, zap.NewNop())
	assert.Error(t, err)
}
