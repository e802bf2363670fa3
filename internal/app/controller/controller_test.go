package controller

import (
	"ImagenStudio/internal/imagegen"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakeGenerator struct {
	result  imagegen.Result
	err     error
	panicV  any
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, model imagegen.Model, apiKey string) (imagegen.Result, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return imagegen.Result{}, ctx.Err()
		}
	}
	if f.panicV != nil {
		panic(f.panicV)
	}
	if f.err != nil {
		return imagegen.Result{}, f.err
	}
	res := f.result
	res.Model = model
	return res, nil
}

func newController(t *testing.T, gen Generator, policy imagegen.KeyPolicy) *Controller {
	t.Helper()
	return New(gen, imagegen.ModelImagen, policy, zaptest.NewLogger(t).Sugar())
}

func receive(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestNew_StartsIdle(t *testing.T) {
	c := New(&fakeGenerator{}, "unknown-model", imagegen.KeyPolicyEmbed, nil)
	s := c.Snapshot()
	if s.Status != StatusIdle || s.Model != imagegen.ModelImagen || s.InputsDisabled() {
		t.Errorf("unexpected initial snapshot: %+v", s)
	}
}

func TestSubmit_BlankPromptMakesNoCall(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\t\n"} {
		gen := &fakeGenerator{}
		c := newController(t, gen, imagegen.KeyPolicyEmbed)

		s, err := c.Submit(context.Background(), prompt, imagegen.ModelFlashImage, "")
		if imagegen.KindOf(err) != imagegen.KindValidation {
			t.Fatalf("expected validation error, got %v", err)
		}
		if s.Validation != "Please enter a prompt." {
			t.Errorf("expected validation message, got %q", s.Validation)
		}
		if s.Status != StatusIdle {
			t.Errorf("status must not change, got %q", s.Status)
		}
		if gen.calls.Load() != 0 {
			t.Errorf("expected no generator call for %q", prompt)
		}
	}
}

func TestSubmit_Success(t *testing.T) {
	gen := &fakeGenerator{result: imagegen.Result{
		ImageURL: "data:image/jpeg;base64,Zm9v",
		Command:  "curl ...",
		APIKey:   "AIzaSecretValue1234",
	}}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)

	s, err := c.Submit(context.Background(), "a red cube", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Status != StatusSuccess || s.ImageURL != "data:image/jpeg;base64,Zm9v" {
		t.Errorf("unexpected snapshot: %+v", s)
	}
	if s.Error != "" || s.ErrorKind != "" {
		t.Errorf("error must be empty on success: %+v", s)
	}
	if s.APIKey != "AIzaSecretValue1234" || s.Model != imagegen.ModelImagen || s.Prompt != "a red cube" {
		t.Errorf("unexpected snapshot fields: %+v", s)
	}
}

func TestSubmit_FailureClearsPreviousResult(t *testing.T) {
	gen := &fakeGenerator{result: imagegen.Result{ImageURL: "data:image/jpeg;base64,Zm9v"}}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)
	if _, err := c.Submit(context.Background(), "cube", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gen.err = imagegen.Classify(errors.New("Error: 429 quota exceeded"))
	s, err := c.Submit(context.Background(), "cube", "", "")
	if imagegen.KindOf(err) != imagegen.KindQuotaExceeded {
		t.Fatalf("expected quota error, got %v", err)
	}
	if s.Status != StatusFailure || s.ImageURL != "" || s.Command != "" {
		t.Errorf("result must be cleared on failure: %+v", s)
	}
	if s.Error != gen.err.Error() || s.ErrorKind != imagegen.KindQuotaExceeded {
		t.Errorf("unexpected error fields: %+v", s)
	}

	gen.err = nil
	s, _ = c.Submit(context.Background(), "cube", "", "")
	if s.Status != StatusSuccess || s.Error != "" {
		t.Errorf("error must be cleared on success: %+v", s)
	}
}

func TestSubmit_BlankPromptReplacesPreviousError(t *testing.T) {
	gen := &fakeGenerator{err: imagegen.Classify(errors.New("Error 403"))}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)
	if _, err := c.Submit(context.Background(), "cube", "", ""); err == nil {
		t.Fatal("expected failure")
	}

	s, _ := c.Submit(context.Background(), "  ", "", "")
	if s.Error != "" || s.ErrorKind != "" {
		t.Errorf("previous error must be replaced: %+v", s)
	}
	if s.Validation != imagegen.MsgEmptyPrompt || s.Status != StatusIdle {
		t.Errorf("expected idle with validation message, got %+v", s)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("expected exactly one generator call, got %d", gen.calls.Load())
	}
}

func TestSubmit_UntypedErrorIsClassified(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("Error 403 forbidden")}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)

	s, _ := c.Submit(context.Background(), "cube", "", "")
	if s.ErrorKind != imagegen.KindAuthDenied {
		t.Errorf("expected auth-denied, got %q", s.ErrorKind)
	}
}

func TestSubmit_PanicLeavesLoading(t *testing.T) {
	gen := &fakeGenerator{panicV: "boom"}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)

	s, err := c.Submit(context.Background(), "cube", "", "")
	if imagegen.KindOf(err) != imagegen.KindUnknown {
		t.Fatalf("expected unknown error, got %v", err)
	}
	if s.Status != StatusFailure || s.InputsDisabled() {
		t.Errorf("controller stuck after panic: %+v", s)
	}
}

func TestSubmit_BusyAndSubscriptionOrder(t *testing.T) {
	gen := &fakeGenerator{
		result:  imagegen.Result{ImageURL: "data:image/jpeg;base64,Zm9v"},
		release: make(chan struct{}),
	}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "cube", imagegen.ModelFlashImage, "")
		done <- err
	}()

	loading := receive(t, ch)
	if loading.Status != StatusLoading || !loading.InputsDisabled() || loading.Model != imagegen.ModelFlashImage {
		t.Fatalf("expected loading snapshot first, got %+v", loading)
	}

	if _, err := c.Submit(context.Background(), "another", "", ""); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if err := c.SelectModel(imagegen.ModelImagen); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy from SelectModel, got %v", err)
	}
	if c.Snapshot().Prompt != "cube" {
		t.Error("busy submission must not change state")
	}

	close(gen.release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	final := receive(t, ch)
	if final.Status != StatusSuccess || final.Seq <= loading.Seq {
		t.Errorf("unexpected final snapshot: %+v", final)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("expected one call, got %d", gen.calls.Load())
	}
}

func TestSubmit_CancelledContext(t *testing.T) {
	gen := &fakeGenerator{release: make(chan struct{})}
	c := newController(t, gen, imagegen.KeyPolicyEmbed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := c.Submit(ctx, "cube", "", "")
	if imagegen.KindOf(err) != imagegen.KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if s.Status != StatusFailure {
		t.Errorf("expected failure, got %q", s.Status)
	}
}

func TestSubmit_RedactPolicyMasksKey(t *testing.T) {
	gen := &fakeGenerator{result: imagegen.Result{ImageURL: "x", APIKey: "AIzaSecretValue1234"}}
	c := newController(t, gen, imagegen.KeyPolicyRedact)

	s, _ := c.Submit(context.Background(), "cube", "", "")
	if s.APIKey != "AIza***********1234" {
		t.Errorf("expected masked key, got %q", s.APIKey)
	}
}

func TestSelectModel(t *testing.T) {
	c := newController(t, &fakeGenerator{}, imagegen.KeyPolicyEmbed)
	ch, unsubscribe := c.Subscribe()

	if err := c.SelectModel("dall-e-3"); err == nil {
		t.Error("expected error for unsupported model")
	}
	if err := c.SelectModel(imagegen.ModelFlashImage); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s := receive(t, ch); s.Model != imagegen.ModelFlashImage {
		t.Errorf("expected published model change, got %+v", s)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("channel must be closed after unsubscribe")
	}
}

func TestSubscribe_SlowSubscriberGetsLatest(t *testing.T) {
	c := newController(t, &fakeGenerator{}, imagegen.KeyPolicyEmbed)
	ch, unsubscribe := c.Subscribe()
	defer unsubscribe()

	models := []imagegen.Model{imagegen.ModelFlashImage, imagegen.ModelImagen}
	for i := 0; i < subscriberBuffer*3; i++ {
		if err := c.SelectModel(models[i%2]); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	var last Snapshot
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Seq != c.Snapshot().Seq {
		t.Errorf("expected latest seq %d, got %d", c.Snapshot().Seq, last.Seq)
	}
}
