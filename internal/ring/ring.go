// Package ring runs one /ring interaction from arrival to its final reply.
//
// An interaction moves Received → Deferred → Processing → Completed or
// Failed. Requests that can be rejected cheaply (no qualifying role, no
// attachment, cooldown) are answered straight from Received with a single
// ephemeral reply and never reach Deferred. Once deferred, every path ends
// with an edit of the deferred response.
package ring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"chaosring/internal/compositor"
	"chaosring/internal/config"
	"chaosring/internal/fetch"
	"chaosring/internal/metrics"
	"chaosring/internal/store"
	"chaosring/internal/tier"
)

// ErrTransport wraps failures talking to Discord.
var ErrTransport = errors.New("discord transport error")

// ResultFilename is the name of the uploaded avatar.
const ResultFilename = "ring.png"

type Stage int

const (
	Received Stage = iota
	Deferred
	Processing
	Completed
	Failed
)

func (s Stage) String() string {
	switch s {
	case Received:
		return "received"
	case Deferred:
		return "deferred"
	case Processing:
		return "processing"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Outcome reasons, used as metric labels and ledger values.
const (
	ReasonCompleted          = "completed"
	ReasonNotInGuild         = "not_in_guild"
	ReasonNoQualifyingRole   = "no_qualifying_role"
	ReasonMissingAttachment  = "missing_attachment"
	ReasonRateLimited        = "rate_limited"
	ReasonUnprocessableImage = "unprocessable_image"
	ReasonTransport          = "transport_error"
	ReasonInternal           = "internal_error"
)

const (
	msgNotInGuild      = "`/ring` only works inside the server."
	msgNoRole          = "You need the DAOist, Fren or Regular role to get a ring."
	msgNoAttachment    = "Please attach an image to `/ring`."
	msgInternal        = "Something went wrong while preparing your avatar. Please try again."
	msgCompleted       = "Here is your ring!"
	msgUnprocessableFm = "I couldn't use that image. Please upload a PNG, JPEG, GIF or WebP up to %dpx per side and %s."
	msgCooldownFm      = "Slow down! You can ring another avatar in %s."
)

// Attachment is the uploaded file as Discord describes it.
type Attachment struct {
	URL         string
	ContentType string
	Filename    string
	Size        int
}

// Request is one /ring invocation.
type Request struct {
	InteractionID string
	UserID        string
	// GuildID is empty when the command was used in a DM.
	GuildID    string
	Roles      []string
	Attachment *Attachment
}

// Responder delivers replies for a single interaction.
type Responder interface {
	// Reply answers the interaction immediately with an ephemeral message.
	Reply(ctx context.Context, content string) error
	// Defer acknowledges the interaction; the response is edited later.
	Defer(ctx context.Context) error
	// Complete edits the deferred response to carry the finished image.
	Complete(ctx context.Context, content, filename string, png []byte) error
	// Fail edits the deferred response with an error message.
	Fail(ctx context.Context, content string) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Recorder interface {
	Record(ctx context.Context, u store.Usage) error
}

// Outcome is how an interaction ended.
type Outcome struct {
	Stage  Stage
	Tier   tier.Tier
	Reason string
	Err    error
}

type Options struct {
	Roles              tier.Roles
	Overlays           map[tier.Tier]*compositor.Overlay
	Pool               *compositor.Pool
	Limits             compositor.Limits
	MaxAttachmentBytes int64
	Fetcher            Fetcher
	// Recorder is optional.
	Recorder Recorder
	Cooldown time.Duration
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Service handles interactions. It holds no per-interaction state and is safe
// for concurrent use.
type Service struct {
	roles    tier.Roles
	overlays map[tier.Tier]*compositor.Overlay
	pool     *compositor.Pool
	limits   compositor.Limits
	maxBytes int64
	fetcher  Fetcher
	recorder Recorder
	cooldown *Cooldown
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewService(opts Options) (*Service, error) {
	for _, t := range tier.Precedence() {
		if opts.Roles[t] == "" {
			return nil, fmt.Errorf("no role configured for %s", t)
		}
		if opts.Overlays[t] == nil {
			return nil, fmt.Errorf("no overlay loaded for %s", t)
		}
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Pool == nil {
		opts.Pool = compositor.NewPool(1)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		roles:    opts.Roles,
		overlays: opts.Overlays,
		pool:     opts.Pool,
		limits:   opts.Limits,
		maxBytes: opts.MaxAttachmentBytes,
		fetcher:  opts.Fetcher,
		recorder: opts.Recorder,
		cooldown: NewCooldown(opts.Cooldown),
		metrics:  opts.Metrics,
		log:      opts.Logger,
		now:      time.Now,
	}, nil
}

// Handle runs the interaction to completion. It never panics on bad input
// and always attempts a terminal reply.
func (s *Service) Handle(ctx context.Context, req Request, resp Responder) Outcome {
	start := s.now()
	log := s.log.With(
		zap.String("interaction", req.InteractionID),
		zap.String("user", req.UserID),
		zap.String("guild", req.GuildID),
	)
	s.enter(log, Received)

	out := s.handle(ctx, log, req, resp)

	s.finish(ctx, log, req, out, s.now().Sub(start))
	return out
}

func (s *Service) handle(ctx context.Context, log *zap.Logger, req Request, resp Responder) Outcome {
	if req.GuildID == "" {
		return s.reject(ctx, log, resp, 0, ReasonNotInGuild, msgNotInGuild)
	}

	t, err := tier.Resolve(req.Roles, s.roles)
	if err != nil {
		return s.reject(ctx, log, resp, 0, ReasonNoQualifyingRole, msgNoRole)
	}
	log = log.With(zap.Stringer("tier", t))

	att := req.Attachment
	if att == nil || att.URL == "" {
		return s.reject(ctx, log, resp, t, ReasonMissingAttachment, msgNoAttachment)
	}
	if err := fetch.CheckContentType(att.ContentType); err != nil {
		return s.reject(ctx, log, resp, t, ReasonUnprocessableImage, s.unprocessableMessage())
	}
	if s.maxBytes > 0 && int64(att.Size) > s.maxBytes {
		return s.reject(ctx, log, resp, t, ReasonUnprocessableImage, s.unprocessableMessage())
	}

	if ok, wait := s.cooldown.Allow(req.UserID, s.now()); !ok {
		return s.reject(ctx, log, resp, t, ReasonRateLimited, fmt.Sprintf(msgCooldownFm, wait.Round(time.Second)))
	}

	if err := resp.Defer(ctx); err != nil {
		log.Error("cannot acknowledge interaction", zap.Error(err))
		return Outcome{Stage: Failed, Tier: t, Reason: ReasonTransport, Err: fmt.Errorf("%w: defer: %v", ErrTransport, err)}
	}
	s.enter(log, Deferred)

	s.enter(log, Processing)
	png, reason, err := s.process(ctx, att, s.overlays[t])
	if err != nil {
		log.Warn("cannot prepare avatar", zap.String("reason", reason), zap.Error(err))
		msg := msgInternal
		if reason == ReasonUnprocessableImage {
			msg = s.unprocessableMessage()
		}
		return s.fail(ctx, log, resp, t, reason, msg, err)
	}

	if err := resp.Complete(ctx, msgCompleted, ResultFilename, png); err != nil {
		log.Error("cannot send finished avatar", zap.Int("bytes", len(png)), zap.Error(err))
		return s.fail(ctx, log, resp, t, ReasonTransport, msgInternal, fmt.Errorf("%w: complete: %v", ErrTransport, err))
	}

	return Outcome{Stage: Completed, Tier: t, Reason: ReasonCompleted}
}

// process downloads the attachment and composites it. The returned reason
// is only meaningful when err is non-nil.
func (s *Service) process(ctx context.Context, att *Attachment, ov *compositor.Overlay) ([]byte, string, error) {
	raw, err := s.fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return nil, ReasonUnprocessableImage, fmt.Errorf("%w: fetch: %v", compositor.ErrUnprocessableImage, err)
	}

	s.metrics.Inflight.Inc()
	started := s.now()
	png, err := s.pool.Compose(ctx, raw, ov, s.limits)
	s.metrics.ComposeTime.Observe(s.now().Sub(started).Seconds())
	s.metrics.Inflight.Dec()

	switch {
	case err == nil:
		return png, "", nil
	case errors.Is(err, compositor.ErrUnprocessableImage):
		return nil, ReasonUnprocessableImage, err
	default:
		return nil, ReasonInternal, err
	}
}

func (s *Service) reject(ctx context.Context, log *zap.Logger, resp Responder, t tier.Tier, reason, msg string) Outcome {
	log.Info("rejecting interaction", zap.String("reason", reason))
	out := Outcome{Stage: Failed, Tier: t, Reason: reason}
	if err := resp.Reply(ctx, msg); err != nil {
		log.Error("cannot reply to interaction", zap.Error(err))
		out.Err = fmt.Errorf("%w: reply: %v", ErrTransport, err)
	}
	return out
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, resp Responder, t tier.Tier, reason, msg string, cause error) Outcome {
	out := Outcome{Stage: Failed, Tier: t, Reason: reason, Err: cause}
	if err := resp.Fail(ctx, msg); err != nil {
		log.Error("cannot edit deferred response", zap.Error(err))
		out.Err = errors.Join(cause, fmt.Errorf("%w: fail: %v", ErrTransport, err))
	}
	return out
}

func (s *Service) enter(log *zap.Logger, st Stage) {
	s.metrics.Stages.WithLabelValues(st.String()).Inc()
	log.Debug("interaction stage", zap.Stringer("stage", st))
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, req Request, out Outcome, took time.Duration) {
	tierLabel := ""
	if out.Tier != 0 {
		tierLabel = out.Tier.String()
	}
	s.enter(log, out.Stage)
	s.metrics.Interactions.WithLabelValues(tierLabel, out.Reason).Inc()

	log.Info("interaction finished",
		zap.Stringer("stage", out.Stage),
		zap.String("reason", out.Reason),
		zap.Duration("took", took),
	)

	if s.recorder == nil {
		return
	}
	err := s.recorder.Record(ctx, store.Usage{
		InteractionID: req.InteractionID,
		UserID:        req.UserID,
		GuildID:       req.GuildID,
		Tier:          tierLabel,
		Outcome:       out.Reason,
		Duration:      took,
		CreatedAt:     s.now(),
	})
	if err != nil {
		log.Warn("cannot record usage", zap.Error(err))
	}
}

func (s *Service) unprocessableMessage() string {
	size := "any size"
	if s.maxBytes > 0 {
		size = humanize.IBytes(uint64(s.maxBytes))
	}
	dim := s.limits.MaxDimension
	if dim <= 0 {
		dim = config.DefaultTuning().MaxDimension
	}
	return fmt.Sprintf(msgUnprocessableFm, dim, size)
}
