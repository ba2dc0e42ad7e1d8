package discord

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"chaosring/internal/ring"
)

const (
	CommandName = "ring"
	optionName  = "avatar"
	statusText  = "for /ring"
)

// Command is the only application command the bot registers.
var Command = &discordgo.ApplicationCommand{
	Name:        CommandName,
	Description: "Overlay a ChaosDAO ring to an avatar",
	Options: []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        optionName,
			Description: "A square profile picture",
			Required:    true,
		},
	},
}

// Handler runs a single interaction. *ring.Service satisfies it.
type Handler interface {
	Handle(ctx context.Context, req ring.Request, resp ring.Responder) ring.Outcome
}

// Bot owns the gateway session.
type Bot struct {
	session *discordgo.Session
	handler Handler
	guildID string
	log     *zap.Logger

	wg      sync.WaitGroup
	removes []func()
}

// New prepares a session. guildID may be empty, in which case the command is
// registered on every guild the bot sees at Ready.
func New(token, guildID string, h Handler, log *zap.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds

	return &Bot{
		session: s,
		handler: h,
		guildID: guildID,
		log:     log,
	}, nil
}

// Open registers event handlers and connects to the gateway.
func (b *Bot) Open() error {
	b.removes = append(b.removes,
		b.session.AddHandler(b.onReady),
		b.session.AddHandler(b.onInteractionCreate),
	)
	if err := b.session.Open(); err != nil {
		b.removeHandlers()
		return err
	}
	b.log.Info("bot is now running")
	return nil
}

// Close stops taking new interactions, waits for running ones to send their
// final response, then closes the gateway.
func (b *Bot) Close() error {
	b.removeHandlers()
	b.wg.Wait()
	return b.session.Close()
}

func (b *Bot) removeHandlers() {
	for _, rm := range b.removes {
		rm()
	}
	b.removes = nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("logged in", zap.String("user", r.User.Username))

	guilds := []string{b.guildID}
	if b.guildID == "" {
		guilds = guilds[:0]
		for _, g := range r.Guilds {
			guilds = append(guilds, g.ID)
		}
	}

	// Bulk overwrite replaces whatever a previous run left behind.
	synced := 0
	for _, gid := range guilds {
		if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, gid, []*discordgo.ApplicationCommand{Command}); err != nil {
			b.log.Warn("failed to sync commands", zap.String("guild", gid), zap.Error(err))
			continue
		}
		synced++
	}
	b.log.Info("synchronized commands", zap.Int("guilds", synced))

	if err := updateStatus(s, statusText); err != nil {
		b.log.Warn("failed to set status", zap.Error(err))
	}
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	b.dispatch(s, i)
}

func (b *Bot) dispatch(api interactionAPI, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != CommandName {
		return
	}

	req := requestFromInteraction(i)
	resp := &sessionResponder{api: api, interaction: i.Interaction}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		// Not tied to shutdown: Close waits for this to finish so the
		// user always gets a final response.
		b.handler.Handle(context.Background(), req, resp)
	}()
}

func requestFromInteraction(i *discordgo.InteractionCreate) ring.Request {
	req := ring.Request{
		InteractionID: i.ID,
		GuildID:       i.GuildID,
	}
	switch {
	case i.Member != nil:
		req.Roles = i.Member.Roles
		if i.Member.User != nil {
			req.UserID = i.Member.User.ID
		}
	case i.User != nil:
		req.UserID = i.User.ID
	}

	data := i.ApplicationCommandData()
	for _, opt := range data.Options {
		if opt.Type != discordgo.ApplicationCommandOptionAttachment || opt.Name != optionName {
			continue
		}
		id, _ := opt.Value.(string)
		if data.Resolved == nil || id == "" {
			break
		}
		if a, ok := data.Resolved.Attachments[id]; ok && a != nil {
			req.Attachment = &ring.Attachment{
				URL:         a.URL,
				ContentType: a.ContentType,
				Filename:    a.Filename,
				Size:        a.Size,
			}
		}
		break
	}
	return req
}

func updateStatus(s *discordgo.Session, text string) error {
	act := &discordgo.Activity{
		Name: text,
		Type: discordgo.ActivityTypeWatching,
	}
	return s.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{act},
	})
}
