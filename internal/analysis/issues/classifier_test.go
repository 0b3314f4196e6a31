package issues

import "testing"

func TestClassifyScreenReplay(t *testing.T) {
	if got := Classify("Screen Moire patterns detected"); got != Screen {
		t.Fatalf("expected screen, got %s", got)
	}
}

func TestClassifyPrintedPhoto(t *testing.T) {
	if got := Classify("2D flatness / paper texture"); got != Print {
		t.Fatalf("expected print, got %s", got)
	}
}

func TestClassifySystemFailure(t *testing.T) {
	for _, issue := range []string{"System Timeout", "Network Error", "Analysis Error"} {
		if got := Classify(issue); got != System {
			t.Fatalf("expected system for %q, got %s", issue, got)
		}
	}
}

func TestClassifyNoneAndUnknown(t *testing.T) {
	if got := Classify("None"); got != None {
		t.Fatalf("expected none, got %s", got)
	}
	if got := Classify("   "); got != None {
		t.Fatalf("expected none for blank, got %s", got)
	}
	if got := Classify("suspicious earring"); got != Other {
		t.Fatalf("expected other, got %s", got)
	}
}

func TestSummarizeDeduplicates(t *testing.T) {
	got := Summarize([]string{"Deepfake warping near jaw", "Unnatural eye reflections", "None", "System Timeout"})
	if len(got) != 2 || got[0] != Deepfake || got[1] != System {
		t.Fatalf("unexpected summary: %v", got)
	}
}
