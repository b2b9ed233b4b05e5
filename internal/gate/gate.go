// Package gate runs every validation an uploaded file must pass before it
// may be handed to storage. Stages run in a fixed order and the first
// failure wins.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/domain"
	"github.com/your-org/eventsphere/internal/imagecheck"
	"github.com/your-org/eventsphere/internal/metrics"
	"github.com/your-org/eventsphere/internal/quota"
	"github.com/your-org/eventsphere/internal/scanner"
	"github.com/your-org/eventsphere/internal/signature"
)

// Stage names one validation step.
type Stage string

const (
	StageType      Stage = "type"
	StageSignature Stage = "signature"
	StageQuota     Stage = "quota"
	StageVirusScan Stage = "virus_scan"
	StageIntegrity Stage = "integrity"
)

type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, id domain.Identity) quota.Decision
}

type VirusScanner interface {
	Scan(ctx context.Context, buf []byte, filename string) (scanner.Result, error)
}

type IntegrityChecker interface {
	Validate(ctx context.Context, buf []byte, filename string) (*imagecheck.Metadata, error)
}

// Candidate is one uploaded file awaiting a decision.
type Candidate struct {
	Data         []byte
	DeclaredType string
	Filename     string
	Size         int64
	// Identity is nil for anonymous uploads, which skip the quota stage.
	Identity *domain.Identity
}

// Outcome records a stage that ran.
type Outcome struct {
	Stage  Stage  `json:"stage"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Result describes an accepted file.
type Result struct {
	Filename    string
	ContentType string
	Size        int64
	Image       *imagecheck.Metadata
	Quota       *quota.Decision
	Scan        scanner.Result
	Outcomes    []Outcome
}

type Config struct {
	MaxSizeBytes      int64
	AllowedTypes      []string
	AllowedExtensions []string
	MaxFilenameLength int
}

var (
	defaultTypes      = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
	defaultExtensions = []string{"jpg", "jpeg", "png", "webp", "gif"}
)

type Params struct {
	Config    Config
	Quota     QuotaChecker
	Scanner   VirusScanner
	Integrity IntegrityChecker
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Gate struct {
	cfg        Config
	types      map[string]bool
	extensions map[string]bool
	quota      QuotaChecker
	scanner    VirusScanner
	integrity  IntegrityChecker
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *zap.Logger
}

func New(p Params) *Gate {
	cfg := p.Config
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 5 << 20
	}
	if len(cfg.AllowedTypes) == 0 {
		cfg.AllowedTypes = defaultTypes
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = defaultExtensions
	}
	if cfg.MaxFilenameLength <= 0 {
		cfg.MaxFilenameLength = DefaultMaxFilenameLength
	}

	g := &Gate{
		cfg:        cfg,
		types:      map[string]bool{},
		extensions: map[string]bool{},
		quota:      p.Quota,
		scanner:    p.Scanner,
		integrity:  p.Integrity,
		metrics:    p.Metrics,
		tracer:     otel.Tracer("github.com/your-org/eventsphere/internal/gate"),
		logger:     p.Logger.Named("gate"),
	}
	for _, t := range cfg.AllowedTypes {
		g.types[signature.Normalize(t)] = true
	}
	for _, e := range cfg.AllowedExtensions {
		g.extensions[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return g
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Evaluate runs the stages in order. A quota slot, once consumed, stays
// consumed even when a later stage rejects the file.
func (g *Gate) Evaluate(ctx context.Context, c Candidate) (*Result, error) {
	ctx, span := g.tracer.Start(ctx, "gate.Evaluate", trace.WithAttributes(
		attribute.String("upload.filename", c.Filename),
		attribute.String("upload.declared_type", c.DeclaredType),
		attribute.Int64("upload.size", c.Size),
	))
	defer span.End()

	res := &Result{
		Filename:    SanitizeFilename(c.Filename, g.cfg.MaxFilenameLength),
		ContentType: signature.Normalize(c.DeclaredType),
		Size:        c.Size,
	}

	stages := []struct {
		stage Stage
		skip  bool
		run   func(context.Context) (string, error)
	}{
		{StageType, false, func(context.Context) (string, error) { return "", g.checkType(c) }},
		{StageSignature, false, func(context.Context) (string, error) { return "", g.checkSignature(c) }},
		{StageQuota, c.Identity == nil || g.quota == nil, func(ctx context.Context) (string, error) {
			return g.checkQuota(ctx, *c.Identity, res)
		}},
		{StageVirusScan, g.scanner == nil, func(ctx context.Context) (string, error) {
			return g.scan(ctx, c, res)
		}},
		{StageIntegrity, g.integrity == nil || !strings.HasPrefix(res.ContentType, "image/"), func(ctx context.Context) (string, error) {
			return g.checkIntegrity(ctx, c, res)
		}},
	}

	for _, st := range stages {
		if st.skip {
			continue
		}
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return nil, &Error{Stage: st.stage, Kind: KindClientInput, Reason: ReasonCancelled, Message: "upload cancelled", Err: err}
		}

		started := time.Now()
		stageCtx, stageSpan := g.tracer.Start(ctx, "gate."+string(st.stage))
		detail, err := st.run(stageCtx)
		took := time.Since(started)

		if err != nil {
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
			stageSpan.End()
			span.SetStatus(codes.Error, string(st.stage))
			g.metrics.GateStage(string(st.stage), "rejected", took)
			res.Outcomes = append(res.Outcomes, Outcome{Stage: st.stage, Passed: false, Detail: err.Error()})
			g.logRejection(c, err)
			return nil, err
		}
		stageSpan.End()
		g.metrics.GateStage(string(st.stage), "passed", took)
		res.Outcomes = append(res.Outcomes, Outcome{Stage: st.stage, Passed: true, Detail: detail})
	}

	g.logger.Info("file passed all security checks",
		zap.String("filename", res.Filename),
		zap.String("content_type", res.ContentType),
		zap.Int64("size", res.Size),
	)
	return res, nil
}

func (g *Gate) checkType(c Candidate) error {
	if c.Size <= 0 || len(c.Data) == 0 {
		return clientErr(StageType, ReasonEmptyFile, "file is empty")
	}
	if c.Size > g.cfg.MaxSizeBytes || int64(len(c.Data)) > g.cfg.MaxSizeBytes {
		return clientErr(StageType, ReasonTooLarge, "file exceeds the %d byte limit", g.cfg.MaxSizeBytes)
	}
	if !g.types[signature.Normalize(c.DeclaredType)] {
		return clientErr(StageType, ReasonInvalidType, "invalid file type, allowed types: %s", strings.Join(g.cfg.AllowedTypes, ", "))
	}
	if !g.extensions[extension(c.Filename)] {
		return clientErr(StageType, ReasonInvalidExtension, "invalid file extension, allowed extensions: %s", strings.Join(g.cfg.AllowedExtensions, ", "))
	}
	if hasDoubleExtension(c.Filename) {
		return clientErr(StageType, ReasonDoubleExtension, "invalid filename: multiple extensions detected")
	}
	return nil
}

func (g *Gate) checkSignature(c Candidate) error {
	if !signature.Matches(c.Data, c.DeclaredType) {
		return clientErr(StageSignature, ReasonSignatureMismatch, "file content does not match its declared type")
	}
	return nil
}

func (g *Gate) checkQuota(ctx context.Context, id domain.Identity, res *Result) (string, error) {
	d := g.quota.CheckAndIncrement(ctx, id)
	res.Quota = &d
	if !d.Allowed {
		e := clientErr(StageQuota, ReasonQuotaExceeded, "daily upload limit of %d reached", d.Limit)
		e.Quota = &d
		return "", e
	}
	if d.Degraded {
		return "quota store unavailable", nil
	}
	return fmt.Sprintf("%d of %d used", d.Used, d.Limit), nil
}

func (g *Gate) scan(ctx context.Context, c Candidate, res *Result) (string, error) {
	r, err := g.scanner.Scan(ctx, c.Data, c.Filename)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", &Error{Stage: StageVirusScan, Kind: KindClientInput, Reason: ReasonCancelled, Message: "upload cancelled", Err: err}
		}
		return "", &Error{
			Stage:   StageVirusScan,
			Kind:    KindDependency,
			Reason:  ReasonScannerUnavailable,
			Message: "virus scanning is unavailable",
			Err:     err,
		}
	}
	res.Scan = r
	if r.Infected {
		return "", &Error{
			Stage:      StageVirusScan,
			Kind:       KindSecurity,
			Reason:     ReasonVirusDetected,
			Message:    fmt.Sprintf("virus detected (%s)", strings.Join(r.Signatures, ", ")),
			Signatures: r.Signatures,
		}
	}
	if r.Skipped {
		return "scan skipped", nil
	}
	return "clean", nil
}

func (g *Gate) checkIntegrity(ctx context.Context, c Candidate, res *Result) (string, error) {
	md, err := g.integrity.Validate(ctx, c.Data, c.Filename)
	if err != nil {
		var ie *imagecheck.InvalidError
		if errors.As(err, &ie) {
			return "", &Error{Stage: StageIntegrity, Kind: KindClientInput, Reason: ie.Reason, Message: "image validation failed: " + ie.Message}
		}
		return "", &Error{Stage: StageIntegrity, Kind: KindClientInput, Reason: ReasonCancelled, Message: "upload cancelled", Err: err}
	}
	res.Image = md
	return fmt.Sprintf("%s %dx%d", md.Format, md.Width, md.Height), nil
}

func (g *Gate) logRejection(c Candidate, err error) {
	ge, ok := AsError(err)
	if !ok {
		g.logger.Error("upload validation failed", zap.String("filename", c.Filename), zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("filename", c.Filename),
		zap.String("stage", string(ge.Stage)),
		zap.String("reason", ge.Reason),
	}
	if c.Identity != nil {
		fields = append(fields, zap.String("user_id", c.Identity.UserID))
	}
	switch ge.Kind {
	case KindSecurity:
		g.logger.Error("upload rejected: virus detected", append(fields, zap.Strings("signatures", ge.Signatures))...)
	case KindDependency:
		g.logger.Error("upload rejected: dependency failure", append(fields, zap.Error(ge.Err))...)
	default:
		g.logger.Info("upload rejected", append(fields, zap.String("message", ge.Message))...)
	}
}
