package verification

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/analysis/issues"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/metrics"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	model "github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/camera"
	"github.com/zhouzirui/kyc-shield/backend/pkg/utils"
)

const maxLogEntries = 100

// Analyzer produces a verdict for one captured JPEG frame.
type Analyzer interface {
	Analyze(ctx context.Context, jpeg []byte) (model.Verdict, error)
}

// Recorder persists completed scans.
type Recorder interface {
	Record(ctx context.Context, rec model.ScanRecord) error
}

// EventType names the progress notifications of RunLiveness.
type EventType string

const (
	EventPrompt    EventType = "prompt"
	EventCapture   EventType = "capture"
	EventAnalyzing EventType = "analyzing"
	EventResult    EventType = "result"
)

// Event is one progress notification.
type Event struct {
	Type        EventType       `json:"type"`
	Instruction string          `json:"instruction,omitempty"`
	DwellMillis int64           `json:"dwellMs,omitempty"`
	Step        int             `json:"step,omitempty"`
	Steps       int             `json:"steps,omitempty"`
	FrameBytes  int             `json:"frameBytes,omitempty"`
	Snapshot    *model.Snapshot `json:"snapshot,omitempty"`
}

// Observer receives progress events. It is called synchronously from the
// session flow and must not block.
type Observer func(Event)

// Options tunes an Orchestrator. Zero values pick production defaults.
type Options struct {
	Clock          Clock
	Rand           func(n int) int
	Metrics        *metrics.Collectors
	JPEGQuality    int
	PersistTimeout time.Duration
}

// Orchestrator drives one client's verification attempts:
// Idle -> Capturing -> Prompting -> Analyzing -> Result -> Idle.
type Orchestrator struct {
	device   camera.Device
	analyzer Analyzer
	recorder Recorder

	clock          Clock
	randIntN       func(n int) int
	collectors     *metrics.Collectors
	jpegQuality    int
	persistTimeout time.Duration
	log            zerolog.Logger

	mu          sync.Mutex
	gen         uint64
	stage       model.Stage
	stream      camera.Stream
	instruction string
	frame       []byte
	verdict     *model.Verdict
	display     *model.Metrics
	failure     string
	logs        []model.LogEntry

	pending  sync.WaitGroup
	inflight atomic.Int32
}

// New builds an orchestrator in the Idle stage. recorder may be nil when
// results are never persisted.
func New(device camera.Device, analyzer Analyzer, recorder Recorder, opts Options) *Orchestrator {
	o := &Orchestrator{
		device:         device,
		analyzer:       analyzer,
		recorder:       recorder,
		clock:          opts.Clock,
		randIntN:       opts.Rand,
		collectors:     opts.Metrics,
		jpegQuality:    opts.JPEGQuality,
		persistTimeout: opts.PersistTimeout,
		log:            logging.For("verification"),
		stage:          model.StageIdle,
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}
	if o.randIntN == nil {
		o.randIntN = rand.Intn
	}
	if o.jpegQuality == 0 {
		o.jpegQuality = camera.DefaultJPEGQuality
	}
	if o.persistTimeout <= 0 {
		o.persistTimeout = 10 * time.Second
	}
	o.appendLogLocked("System Initialized", model.LogSystem)
	return o
}

// Start acquires the camera. On failure the session falls back to Idle and a
// *DeviceAccessError is returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stage != model.StageIdle {
		stage := o.stage
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, stage)
	}
	o.stage = model.StageCapturing
	gen := o.gen
	o.appendLogLocked("Initializing Camera Stream...", model.LogSystem)
	o.mu.Unlock()

	stream, err := o.device.Open(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.gen != gen || o.stage != model.StageCapturing {
		if stream != nil {
			_ = stream.Close()
		}
		return ErrSessionReset
	}
	if err != nil {
		o.stage = model.StageIdle
		o.appendLogLocked("Camera access denied.", model.LogAlert)
		o.log.Info().Err(err).Msg("camera acquisition failed")
		return &DeviceAccessError{Err: err}
	}

	o.stream = stream
	o.appendLogLocked("Video Stream Connected.", model.LogSuccess)
	return nil
}

// RunLiveness presents the prompt sequence, captures a frame, analyzes it
// and lands in Result. Once started it runs to completion even if ctx is
// cancelled. principal decides whether the scan is persisted.
func (o *Orchestrator) RunLiveness(ctx context.Context, principal identity.Principal, observe Observer) (model.Snapshot, error) {
	if observe == nil {
		observe = func(Event) {}
	}

	o.mu.Lock()
	if o.stage != model.StageCapturing || o.stream == nil {
		stage := o.stage
		o.mu.Unlock()
		return model.Snapshot{}, fmt.Errorf("%w: cannot run liveness from %s", ErrInvalidTransition, stage)
	}
	o.stage = model.StagePrompting
	stream := o.stream
	o.mu.Unlock()

	flow := context.WithoutCancel(ctx)

	sequence := LivenessSequence()
	for i, prompt := range sequence {
		o.mu.Lock()
		o.instruction = prompt.Instruction
		if prompt.Instruction != HoldInstruction {
			o.appendLogLocked("Liveness Check: "+prompt.Instruction, model.LogInfo)
		}
		o.mu.Unlock()

		observe(Event{
			Type:        EventPrompt,
			Instruction: prompt.Instruction,
			DwellMillis: prompt.Dwell.Milliseconds(),
			Step:        i + 1,
			Steps:       len(sequence),
		})
		<-o.clock.After(prompt.Dwell)
	}

	frame, captureErr := o.capture(flow, stream)
	_ = stream.Close()

	o.mu.Lock()
	o.stream = nil
	o.instruction = ""
	if captureErr != nil {
		o.stage = model.StageIdle
		o.appendLogLocked("Frame capture failed.", model.LogAlert)
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.log.Warn().Err(captureErr).Msg("frame capture failed")
		return snap, &DeviceAccessError{Err: captureErr}
	}
	o.frame = frame
	o.stage = model.StageAnalyzing
	o.appendLogLocked("Uploading frame to Secure AI Enclave...", model.LogSystem)
	o.mu.Unlock()

	observe(Event{Type: EventCapture, FrameBytes: len(frame)})
	observe(Event{Type: EventAnalyzing})

	started := o.clock.Now()
	verdict, err := utils.Race(flow, o.clock.After(AnalysisTimeout), func(c context.Context) (model.Verdict, error) {
		return o.analyzer.Analyze(c, frame)
	})
	took := o.clock.Now().Sub(started)

	failure := ""
	if err != nil {
		failure = FailureTransport
		if errors.Is(err, utils.ErrDeadlineExceeded) {
			failure = FailureTimeout
		}
		o.log.Warn().Err(err).Str("failure", failure).Msg("analysis failed, using failure verdict")
		verdict = model.FailureVerdict()
	} else {
		verdict = verdict.Clone()
	}
	display := o.deriveMetrics(verdict)

	o.mu.Lock()
	o.verdict = &verdict
	o.display = &display
	o.failure = failure
	o.stage = model.StageResult
	if failure != "" {
		o.appendLogLocked(fmt.Sprintf("Verification failed: %v", err), model.LogAlert)
	} else {
		o.appendLogLocked(fmt.Sprintf("Analysis complete in %dms", took.Milliseconds()), model.LogInfo)
	}
	if verdict.IsReal {
		o.appendLogLocked("VERIFIED: "+verdict.Message, model.LogSuccess)
	} else {
		o.appendLogLocked("REJECTED: "+verdict.Message, model.LogAlert)
		for _, issue := range verdict.Issues {
			o.appendLogLocked("FLAG: "+issue, model.LogAlert)
		}
	}
	snap := o.snapshotLocked()
	o.mu.Unlock()

	o.collectors.ObserveVerdict(outcomeLabel(verdict, failure), took, categoryLabels(verdict.Issues))

	if principal.SignedIn() && o.recorder != nil {
		o.persist(model.NewScanRecord(principal.Owner(), o.clock.Now().UTC(), verdict))
	}

	observe(Event{Type: EventResult, Snapshot: &snap})
	return snap, nil
}

// Reset returns a finished session to Idle and clears every session field.
func (o *Orchestrator) Reset() (model.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stage != model.StageResult {
		return o.snapshotLocked(), fmt.Errorf("%w: cannot reset from %s", ErrInvalidTransition, o.stage)
	}
	o.clearLocked()
	o.appendLogLocked("Session reset. Ready for next applicant.", model.LogSystem)
	return o.snapshotLocked(), nil
}

// Discard abandons the session when the user navigates away, releasing the
// camera. It refuses while prompts or analysis are running.
func (o *Orchestrator) Discard() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.stage {
	case model.StagePrompting, model.StageAnalyzing:
		return ErrSessionBusy
	}
	if o.stream != nil {
		_ = o.stream.Close()
		o.stream = nil
	}
	o.clearLocked()
	return nil
}

// Snapshot returns the current read model.
func (o *Orchestrator) Snapshot() model.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Stage returns the current stage.
func (o *Orchestrator) Stage() model.Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stage
}

// Wait blocks until background persistence has finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Persisting reports whether a scan is still being written.
func (o *Orchestrator) Persisting() bool {
	return o.inflight.Load() > 0
}

func (o *Orchestrator) capture(ctx context.Context, stream camera.Stream) ([]byte, error) {
	o.mu.Lock()
	o.appendLogLocked("Capturing high-res frame...", model.LogInfo)
	o.mu.Unlock()

	img, err := stream.Frame(ctx)
	if err != nil {
		return nil, err
	}
	return camera.EncodeJPEG(img, o.jpegQuality)
}

func (o *Orchestrator) persist(rec model.ScanRecord) {
	o.pending.Add(1)
	o.inflight.Add(1)
	go func() {
		defer o.pending.Done()
		defer o.inflight.Add(-1)

		ctx, cancel := context.WithTimeout(context.Background(), o.persistTimeout)
		defer cancel()

		if err := o.recorder.Record(ctx, rec); err != nil {
			o.log.Warn().Err(err).Str("owner", rec.Owner).Msg("failed to persist scan")
			o.collectors.PersistenceFailed("scans")
			o.appendLog("Cloud sync failed. Result kept locally.", model.LogAlert)
			return
		}
		o.appendLog("Scan result synced with cloud.", model.LogSuccess)
	}()
}

func (o *Orchestrator) deriveMetrics(v model.Verdict) model.Metrics {
	texture := model.TextureClean
	if len(v.Issues) > 0 {
		texture = model.TextureArtifacts
	}
	return model.Metrics{
		Confidence:         v.Confidence,
		TextureStatus:      texture,
		BlinkRate:          o.randIntN(15) + 10,
		BlinkRateSimulated: true,
	}
}

func (o *Orchestrator) clearLocked() {
	o.gen++
	o.stage = model.StageIdle
	o.instruction = ""
	o.frame = nil
	o.verdict = nil
	o.display = nil
	o.failure = ""
}

func (o *Orchestrator) appendLog(message string, kind model.LogKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.appendLogLocked(message, kind)
}

func (o *Orchestrator) appendLogLocked(message string, kind model.LogKind) {
	o.logs = append(o.logs, model.LogEntry{
		ID:      uuid.NewString(),
		At:      o.clock.Now().UTC(),
		Message: message,
		Kind:    kind,
	})
	if len(o.logs) > maxLogEntries {
		o.logs = append([]model.LogEntry(nil), o.logs[len(o.logs)-maxLogEntries:]...)
	}
}

func (o *Orchestrator) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		Stage:       o.stage,
		Instruction: o.instruction,
		FrameBytes:  len(o.frame),
		Failure:     o.failure,
		Logs:        append([]model.LogEntry(nil), o.logs...),
	}
	if o.verdict != nil {
		v := o.verdict.Clone()
		snap.Verdict = &v
		snap.Headline = v.Headline()
		snap.ActionLabel = v.ActionLabel()
	}
	if o.display != nil {
		m := *o.display
		snap.Metrics = &m
	}
	return snap
}

func outcomeLabel(v model.Verdict, failure string) string {
	switch {
	case failure != "":
		return "failed"
	case v.IsReal:
		return "approved"
	default:
		return "rejected"
	}
}

func categoryLabels(list []string) []string {
	categories := issues.Summarize(list)
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
