package verification

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/kyc-shield/backend/internal/metrics"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	model "github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
	"github.com/zhouzirui/kyc-shield/backend/internal/service/camera"
)

type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	waits     []time.Duration
	timeoutCh chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After fires dwell waits immediately. The analysis deadline only fires when
// the test armed timeoutCh.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d == AnalysisTimeout {
		return c.timeoutCh
	}
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type fakeDevice struct {
	err    error
	opened int
	closed int
}

func (d *fakeDevice) Open(context.Context) (camera.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.opened++
	return &fakeStream{device: d}, nil
}

type fakeStream struct {
	device   *fakeDevice
	frameErr error
}

func (s *fakeStream) Frame(context.Context) (image.Image, error) {
	if s.frameErr != nil {
		return nil, s.frameErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	return img, nil
}

func (s *fakeStream) Close() error {
	s.device.closed++
	return nil
}

type fakeAnalyzer struct {
	verdict model.Verdict
	err     error
	block   bool
	frames  [][]byte
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, jpeg []byte) (model.Verdict, error) {
	a.frames = append(a.frames, jpeg)
	if a.block {
		<-ctx.Done()
		return model.Verdict{}, ctx.Err()
	}
	return a.verdict, a.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	err     error
	records []model.ScanRecord
}

func (r *fakeRecorder) Record(_ context.Context, rec model.ScanRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

var signedIn = identity.Principal{ClientID: "client-1", User: &identity.User{ID: "user-1", DisplayName: "Asha"}}

func newTestOrchestrator(device camera.Device, analyzer Analyzer, recorder Recorder, clock *fakeClock) *Orchestrator {
	return New(device, analyzer, recorder, Options{
		Clock: clock,
		Rand:  func(int) int { return 4 },
	})
}

func hasLog(snap model.Snapshot, message string) bool {
	for _, entry := range snap.Logs {
		if entry.Message == message {
			return true
		}
	}
	return false
}

func TestSuccessfulVerification(t *testing.T) {
	clock := newFakeClock()
	device := &fakeDevice{}
	analyzer := &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 97, Issues: []string{}, Message: "Live human detected"}}
	recorder := &fakeRecorder{}
	o := newTestOrchestrator(device, analyzer, recorder, clock)

	require.NoError(t, o.Start(context.Background()))
	assert.Equal(t, model.StageCapturing, o.Stage())

	var events []EventType
	snap, err := o.RunLiveness(context.Background(), signedIn, func(e Event) { events = append(events, e.Type) })
	require.NoError(t, err)
	o.Wait()

	assert.Equal(t, model.StageResult, snap.Stage)
	require.NotNil(t, snap.Verdict)
	assert.True(t, snap.Verdict.IsReal)
	assert.Equal(t, 97, snap.Verdict.Confidence)
	assert.Equal(t, "KYC APPROVED", snap.Headline)
	assert.Equal(t, "Continue", snap.ActionLabel)
	require.NotNil(t, snap.Metrics)
	assert.Equal(t, model.TextureClean, snap.Metrics.TextureStatus)
	assert.Equal(t, 14, snap.Metrics.BlinkRate)
	assert.True(t, snap.Metrics.BlinkRateSimulated)
	assert.Empty(t, snap.Failure)
	assert.Positive(t, snap.FrameBytes)
	assert.True(t, hasLog(snap, "VERIFIED: Live human detected"))

	assert.Equal(t, 1, device.opened)
	assert.Equal(t, 1, device.closed, "stream is released after capture")
	require.Len(t, analyzer.frames, 1)
	assert.Equal(t, []byte{0xFF, 0xD8}, analyzer.frames[0][:2], "frame is sent as JPEG")

	require.Len(t, recorder.records, 1)
	rec := recorder.records[0]
	assert.Equal(t, "user-1", rec.Owner)
	assert.True(t, rec.IsReal)
	assert.Equal(t, 97, rec.Confidence)
	assert.Equal(t, "Live human detected", rec.Message)
	assert.True(t, hasLog(o.Snapshot(), "Scan result synced with cloud."))

	assert.Equal(t, EventPrompt, events[0])
	assert.Equal(t, []EventType{EventCapture, EventAnalyzing, EventResult}, events[len(events)-3:])
}

func TestApprovedSnapshotEncodesEmptyIssues(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 97, Issues: []string{}, Message: "Clear match"}}
	recorder := &fakeRecorder{}
	o := newTestOrchestrator(&fakeDevice{}, analyzer, recorder, newFakeClock())

	require.NoError(t, o.Start(context.Background()))
	var result *model.Snapshot
	snap, err := o.RunLiveness(context.Background(), signedIn, func(e Event) {
		if e.Type == EventResult {
			result = e.Snapshot
		}
	})
	require.NoError(t, err)
	o.Wait()

	data, err := json.Marshal(snap.Verdict)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isReal":true,"confidence":97,"issues":[],"message":"Clear match"}`, string(data))

	require.NotNil(t, result)
	data, err = json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"issues":[]`)

	require.Len(t, recorder.records, 1)
	data, err = json.Marshal(recorder.records[0].Issues)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestPromptOrderAndDwell(t *testing.T) {
	clock := newFakeClock()
	o := newTestOrchestrator(&fakeDevice{}, &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 90, Issues: []string{}, Message: "ok"}}, nil, clock)
	require.NoError(t, o.Start(context.Background()))

	var instructions []string
	_, err := o.RunLiveness(context.Background(), identity.Principal{ClientID: "c"}, func(e Event) {
		if e.Type == EventPrompt {
			instructions = append(instructions, e.Instruction)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Look Straight", "Turn Head Left", "Turn Head Right", "Blink Your Eyes", "Smile", "Hold Still...",
	}, instructions)
	assert.Equal(t, []time.Duration{
		2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second, time.Second,
	}, clock.Waits())
}

func TestCameraDeniedReturnsToIdle(t *testing.T) {
	o := newTestOrchestrator(&fakeDevice{err: camera.ErrAccessDenied}, &fakeAnalyzer{}, nil, newFakeClock())

	err := o.Start(context.Background())
	var accessErr *DeviceAccessError
	require.ErrorAs(t, err, &accessErr)
	assert.ErrorIs(t, err, ErrCameraAccessDenied)
	assert.ErrorIs(t, err, camera.ErrAccessDenied)

	snap := o.Snapshot()
	assert.Equal(t, model.StageIdle, snap.Stage)
	assert.Nil(t, snap.Verdict)
	assert.True(t, hasLog(snap, "Camera access denied."))

	// Retry is allowed from Idle.
	err = o.Start(context.Background())
	require.ErrorAs(t, err, &accessErr)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
}

func TestCaptureFailureReturnsToIdle(t *testing.T) {
	device := &captureFailDevice{}
	o := newTestOrchestrator(device, &fakeAnalyzer{}, nil, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	snap, err := o.RunLiveness(context.Background(), identity.Principal{}, nil)
	var accessErr *DeviceAccessError
	require.ErrorAs(t, err, &accessErr)
	assert.Equal(t, model.StageIdle, snap.Stage)
	assert.Nil(t, snap.Verdict)
}

type captureFailDevice struct{ fakeDevice }

func (d *captureFailDevice) Open(context.Context) (camera.Stream, error) {
	return &fakeStream{device: &d.fakeDevice, frameErr: camera.ErrNoFrame}, nil
}

func TestAnalysisTimeoutYieldsFailureVerdict(t *testing.T) {
	clock := newFakeClock()
	clock.timeoutCh = make(chan time.Time, 1)
	clock.timeoutCh <- time.Now()

	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)
	o := New(&fakeDevice{}, &fakeAnalyzer{block: true}, nil, Options{Clock: clock, Metrics: collectors})
	require.NoError(t, o.Start(context.Background()))

	snap, err := o.RunLiveness(context.Background(), identity.Principal{ClientID: "c"}, nil)
	require.NoError(t, err)

	assert.Equal(t, model.StageResult, snap.Stage)
	require.NotNil(t, snap.Verdict)
	assert.Equal(t, model.FailureVerdict(), *snap.Verdict)
	assert.Equal(t, FailureTimeout, snap.Failure)
	assert.Equal(t, "DEEPFAKE DETECTED", snap.Headline)
	assert.Equal(t, "Retry Verification", snap.ActionLabel)
	assert.Equal(t, model.TextureArtifacts, snap.Metrics.TextureStatus)
	assert.True(t, hasLog(snap, "FLAG: System Timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.VerdictsTotal.WithLabelValues("failed")))
}

func TestAnalysisTransportErrorYieldsFailureVerdict(t *testing.T) {
	o := newTestOrchestrator(&fakeDevice{}, &fakeAnalyzer{err: errors.New("connection refused")}, nil, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	snap, err := o.RunLiveness(context.Background(), identity.Principal{ClientID: "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.FailureVerdict(), *snap.Verdict)
	assert.Equal(t, FailureTransport, snap.Failure)
}

func TestRejectedVerdictFlagsIssues(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: model.Verdict{
		IsReal: false, Confidence: 12, Issues: []string{"Moire pattern", "Screen glare"}, Message: "Screen replay",
	}}
	o := newTestOrchestrator(&fakeDevice{}, analyzer, nil, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	snap, err := o.RunLiveness(context.Background(), identity.Principal{ClientID: "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "DEEPFAKE DETECTED", snap.Headline)
	assert.Equal(t, model.TextureArtifacts, snap.Metrics.TextureStatus)
	assert.True(t, hasLog(snap, "REJECTED: Screen replay"))
	assert.True(t, hasLog(snap, "FLAG: Moire pattern"))
	assert.True(t, hasLog(snap, "FLAG: Screen glare"))
}

func TestPersistenceFailureKeepsVerdict(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.New(reg)
	recorder := &fakeRecorder{err: errors.New("permission denied")}
	analyzer := &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 88, Issues: []string{}, Message: "ok"}}
	o := New(&fakeDevice{}, analyzer, recorder, Options{Clock: newFakeClock(), Metrics: collectors})
	require.NoError(t, o.Start(context.Background()))

	snap, err := o.RunLiveness(context.Background(), signedIn, nil)
	require.NoError(t, err)
	o.Wait()

	after := o.Snapshot()
	assert.Equal(t, snap.Verdict, after.Verdict)
	assert.Equal(t, model.StageResult, after.Stage)
	assert.True(t, hasLog(after, "Cloud sync failed. Result kept locally."))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.PersistenceFailures.WithLabelValues("scans")))
}

func TestAnonymousScanIsNotPersisted(t *testing.T) {
	recorder := &fakeRecorder{}
	analyzer := &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 90, Issues: []string{}, Message: "ok"}}
	o := newTestOrchestrator(&fakeDevice{}, analyzer, recorder, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	_, err := o.RunLiveness(context.Background(), identity.Principal{ClientID: "anon"}, nil)
	require.NoError(t, err)
	o.Wait()
	assert.Empty(t, recorder.records)
}

func TestResetClearsSession(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 90, Issues: []string{}, Message: "ok"}}
	o := newTestOrchestrator(&fakeDevice{}, analyzer, nil, newFakeClock())

	_, err := o.Reset()
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, o.Start(context.Background()))
	_, err = o.RunLiveness(context.Background(), identity.Principal{ClientID: "c"}, nil)
	require.NoError(t, err)

	snap, err := o.Reset()
	require.NoError(t, err)
	assert.Equal(t, model.StageIdle, snap.Stage)
	assert.Nil(t, snap.Verdict)
	assert.Nil(t, snap.Metrics)
	assert.Zero(t, snap.FrameBytes)
	assert.Empty(t, snap.Instruction)
	assert.True(t, hasLog(snap, "Session reset. Ready for next applicant."))

	// A second reset is rejected and changes nothing.
	again, err := o.Reset()
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, snap.Stage, again.Stage)
	assert.Len(t, again.Logs, len(snap.Logs))

	require.NoError(t, o.Start(context.Background()))
}

func TestInvalidTransitions(t *testing.T) {
	o := newTestOrchestrator(&fakeDevice{}, &fakeAnalyzer{}, nil, newFakeClock())

	_, err := o.RunLiveness(context.Background(), identity.Principal{}, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, o.Start(context.Background()))
	require.ErrorIs(t, o.Start(context.Background()), ErrInvalidTransition)
}

func TestDiscardReleasesCamera(t *testing.T) {
	device := &fakeDevice{}
	o := newTestOrchestrator(device, &fakeAnalyzer{}, nil, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	require.NoError(t, o.Discard())
	assert.Equal(t, 1, device.closed)
	assert.Equal(t, model.StageIdle, o.Stage())
	require.NoError(t, o.Discard())
}

func TestDiscardRefusedWhileAnalyzing(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	analyzer := analyzerFunc(func(ctx context.Context, _ []byte) (model.Verdict, error) {
		close(entered)
		<-release
		return model.Verdict{IsReal: true, Confidence: 90, Issues: []string{}, Message: "ok"}, nil
	})
	o := newTestOrchestrator(&fakeDevice{}, analyzer, nil, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := o.RunLiveness(context.Background(), identity.Principal{ClientID: "c"}, nil)
		done <- err
	}()

	<-entered
	assert.Equal(t, model.StageAnalyzing, o.Stage())
	require.ErrorIs(t, o.Discard(), ErrSessionBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, model.StageResult, o.Stage())
}

func TestCancelledRequestStillCompletes(t *testing.T) {
	analyzer := &fakeAnalyzer{verdict: model.Verdict{IsReal: true, Confidence: 90, Issues: []string{}, Message: "ok"}}
	o := newTestOrchestrator(&fakeDevice{}, analyzer, nil, newFakeClock())
	require.NoError(t, o.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap, err := o.RunLiveness(ctx, identity.Principal{ClientID: "c"}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StageResult, snap.Stage)
	assert.True(t, snap.Verdict.IsReal)
}

type analyzerFunc func(ctx context.Context, jpeg []byte) (model.Verdict, error)

func (f analyzerFunc) Analyze(ctx context.Context, jpeg []byte) (model.Verdict, error) {
	return f(ctx, jpeg)
}
