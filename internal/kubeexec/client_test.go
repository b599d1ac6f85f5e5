package kubeexec

import (
	"context"
	"fmt"
	"sync"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/kubernetes/scheme"
	corev1client "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	"github.com/stretchr/testify/require"
)

// fakeExecClientset serves pod lookups from the fake clientset but returns a
// real REST client from CoreV1().RESTClient(): the fake's own RESTClient()
// is a typed nil, which cannot build the pods/exec request.
type fakeExecClientset struct {
	*fake.Clientset
	restClient rest.Interface
}

func (c *fakeExecClientset) CoreV1() corev1client.CoreV1Interface {
	return &fakeCoreV1{CoreV1Interface: c.Clientset.CoreV1(), restClient: c.restClient}
}

type fakeCoreV1 struct {
	corev1client.CoreV1Interface
	restClient rest.Interface
}

func (c *fakeCoreV1) RESTClient() rest.Interface { return c.restClient }

func newFakeClient(t *testing.T, streamFn execStreamFunc) *Client {
	t.Helper()
	restConfig := &rest.Config{Host: "https://fake"}
	coreConfig := *restConfig
	coreConfig.APIPath = "/api"
	coreConfig.GroupVersion = &corev1.SchemeGroupVersion
	coreConfig.NegotiatedSerializer = scheme.Codecs.WithoutConversion()
	restClient, err := rest.RESTClientFor(&coreConfig)
	require.NoError(t, err)

	clientset := fake.NewSimpleClientset(&corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "p", Namespace: "ns"},
	})
	return &Client{
		restConfig: restConfig,
		clientset:  &fakeExecClientset{Clientset: clientset, restClient: restClient},
		streamFn:   streamFn,
	}
}

// scriptedStream drives a sequence of attempts by argv, letting each test
// say exactly which command succeeds, which fail with a no-shell error, and
// which should never be reached at all.
func scriptedStream(t *testing.T, outcomes map[string]error, onAttempt func(argv []string)) execStreamFunc {
	t.Helper()
	return func(ctx context.Context, restConfig *rest.Config, req *rest.Request, opts remotecommand.StreamOptions) error {
		argv := req.URL().Query()["command"]
		if onAttempt != nil {
			onAttempt(argv)
		}
		key := fmt.Sprint(argv)
		err, ok := outcomes[key]
		if !ok {
			t.Fatalf("unscripted stream attempt for argv %v", argv)
		}
		if err == nil {
			// A successful candidate actually produces output, which is
			// what Starting is keyed on.
			_, werr := opts.Stdout.Write([]byte("$ "))
			require.NoError(t, werr)
		}
		return err
	}
}

func noShellErr() error { return fmt.Errorf("executable file not found in $PATH") }

func TestAttachFallsThroughFailingCandidatesToAWorkingOne(t *testing.T) {
	var mu sync.Mutex
	var attempted []string
	var starts []Status

	outcomes := map[string]error{
		`[/bin/bash -il]`:      noShellErr(),
		`[/usr/bin/bash -il]`:  noShellErr(),
		`[bash -il]`:           noShellErr(),
		`[/bin/sh -i]`:         nil,
	}

	client := newFakeClient(t, scriptedStream(t, outcomes, func(argv []string) {
		mu.Lock()
		attempted = append(attempted, fmt.Sprint(argv))
		mu.Unlock()
	}))

	sink := NewResizableSink(&discardWriter{}, 80, 24)
	onStatus := func(s Status) {
		mu.Lock()
		starts = append(starts, s)
		mu.Unlock()
	}

	result, err := client.Attach(context.Background(), Target{Namespace: "ns", Pod: "p"}, &discardReader{}, sink, onStatus)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/bash -il", "/usr/bin/bash -il", "bash -il", "/bin/sh -i"}, result.Candidates)

	require.Equal(t, 4, len(attempted), "every failing candidate up to the working one must be tried")

	var startingCount int
	for _, s := range starts {
		if s.Status == "Starting" {
			startingCount++
		}
	}
	require.Equal(t, 1, startingCount, "Starting must fire exactly once, for the candidate that actually ran")
	require.Equal(t, "Starting", starts[0].Status, "Starting must be reported before Success, not before every blind attempt")
}

func TestAttachSingleCommandDoesNotFallThrough(t *testing.T) {
	var attempted []string

	outcomes := map[string]error{
		`[/bin/custom-shell]`: nil,
	}
	client := newFakeClient(t, scriptedStream(t, outcomes, func(argv []string) {
		attempted = append(attempted, fmt.Sprint(argv))
	}))

	sink := NewResizableSink(&discardWriter{}, 80, 24)
	result, err := client.Attach(context.Background(), Target{Namespace: "ns", Pod: "p", Command: []string{"/bin/custom-shell"}}, &discardReader{}, sink, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"/bin/custom-shell"}, result.Candidates)
	require.Equal(t, 1, len(attempted))
}

func TestAttachReturnsErrorWhenNoCandidateWorks(t *testing.T) {
	outcomes := map[string]error{
		`[/bin/bash -il]`:     noShellErr(),
		`[/usr/bin/bash -il]`: noShellErr(),
		`[bash -il]`:          noShellErr(),
		`[/bin/sh -i]`:        noShellErr(),
		`[/usr/bin/sh -i]`:    noShellErr(),
		`[sh -i]`:             noShellErr(),
		`[/bin/ash -i]`:       noShellErr(),
		`[/usr/bin/ash -i]`:   noShellErr(),
		`[ash -i]`:            noShellErr(),
	}
	client := newFakeClient(t, scriptedStream(t, outcomes, nil))

	sink := NewResizableSink(&discardWriter{}, 80, 24)
	var starts int
	_, err := client.Attach(context.Background(), Target{Namespace: "ns", Pod: "p"}, &discardReader{}, sink, func(s Status) {
		if s.Status == "Starting" {
			starts++
		}
	})
	require.Error(t, err)
	require.Equal(t, 0, starts, "Starting must never fire when no candidate ever produces output")
}

func TestAttachStopsOnNonShellError(t *testing.T) {
	var attempted []string
	outcomes := map[string]error{
		`[/bin/bash -il]`: fmt.Errorf("permission denied"),
	}
	client := newFakeClient(t, scriptedStream(t, outcomes, func(argv []string) {
		attempted = append(attempted, fmt.Sprint(argv))
	}))

	sink := NewResizableSink(&discardWriter{}, 80, 24)
	_, err := client.Attach(context.Background(), Target{Namespace: "ns", Pod: "p"}, &discardReader{}, sink, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "permission denied")
	require.Equal(t, 1, len(attempted), "a non-shell-missing error must abort the fallback loop immediately")
}

type discardWriter struct{}

func (d *discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type discardReader struct{}

func (d *discardReader) Read(p []byte) (int, error) { return 0, nil }
