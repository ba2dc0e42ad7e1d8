package discord

import (
	"bytes"
	"context"

	"github.com/bwmarrin/discordgo"
)

// interactionAPI is the part of *discordgo.Session the responder needs.
type interactionAPI interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// sessionResponder answers one interaction. All replies are ephemeral.
type sessionResponder struct {
	api         interactionAPI
	interaction *discordgo.Interaction
}

func (r *sessionResponder) Reply(ctx context.Context, content string) error {
	return r.api.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
}

func (r *sessionResponder) Defer(ctx context.Context) error {
	return r.api.InteractionRespond(r.interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	}, discordgo.WithContext(ctx))
}

func (r *sessionResponder) Complete(ctx context.Context, content, filename string, png []byte) error {
	_, err := r.api.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
		Content: &content,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: "image/png",
			Reader:      bytes.NewReader(png),
		}},
	}, discordgo.WithContext(ctx))
	return err
}

func (r *sessionResponder) Fail(ctx context.Context, content string) error {
	_, err := r.api.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{
		Content: &content,
	}, discordgo.WithContext(ctx))
	return err
}
