// Package kubeexec wraps the upstream Kubernetes pods/exec contract
// described in spec.md §6: given a kubeconfig blob and an ExecTarget, it
// attaches a TTY exec session and pipes bytes through a ResizableSink.
//
// The attach/stream plumbing follows
// other_examples/airflow-cn-pod-websocket-terminal__terminal.go's
// terminaler.startProcess: build a pods/exec sub-resource request with
// client-go's typed client, then drive it with
// remotecommand.NewSPDYExecutor + StreamWithContext.
package kubeexec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
)

// Target identifies the exec destination (spec.md §3 ExecTarget).
type Target struct {
	Namespace string
	Pod       string
	Container string
	Command   []string
}

// shellCandidates is the fixed fallback order from spec.md §4.4.
var shellCandidates = [][]string{
	{"/bin/bash", "-il"},
	{"/usr/bin/bash", "-il"},
	{"bash", "-il"},
	{"/bin/sh", "-i"},
	{"/usr/bin/sh", "-i"},
	{"sh", "-i"},
	{"/bin/ash", "-i"},
	{"/usr/bin/ash", "-i"},
	{"ash", "-i"},
}

// AttachSuccesses and AttachFailures are cumulative exec-attach outcome
// counts across all sessions, read live by the metrics collector.
var (
	AttachSuccesses atomic.Int64
	AttachFailures  atomic.Int64
)

// noShellSubstrings identifies "command not found" class errors that
// permit falling through to the next shell candidate (spec.md §4.4).
var noShellSubstrings = []string{
	"executable file not found",
	"no such file or directory",
	"not found",
	"stat /",
}

// execStreamFunc performs the actual upstream attach+stream call. Production
// clients always use newSPDYStream; tests substitute a fake so the
// shell-candidate fallback in Attach can be exercised without a live
// cluster.
type execStreamFunc func(ctx context.Context, restConfig *rest.Config, req *rest.Request, opts remotecommand.StreamOptions) error

func newSPDYStream(ctx context.Context, restConfig *rest.Config, req *rest.Request, opts remotecommand.StreamOptions) error {
	exec, err := remotecommand.NewSPDYExecutor(restConfig, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("build exec executor: %w", err)
	}
	return exec.StreamWithContext(ctx, opts)
}

// Client attaches to a pod's exec sub-resource for a single session. It is
// constructed fresh per session from that session's kubeconfig — there is
// no shared client cache across sessions, since each ticket carries its
// own credentials (SPEC_FULL.md §4.4).
type Client struct {
	restConfig *rest.Config
	clientset  kubernetes.Interface
	streamFn   execStreamFunc
}

// NewClient parses kubeconfig (after normalizing file-based TLS
// material) and builds a typed client for it.
func NewClient(kubeconfig string) (*Client, error) {
	normalized, err := normalizeKubeconfig([]byte(kubeconfig))
	if err != nil {
		return nil, fmt.Errorf("normalize kubeconfig: %w", err)
	}

	clientCfg, err := clientcmd.NewClientConfigFromBytes(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse kubeconfig: %w", err)
	}

	restConfig, err := clientCfg.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("build rest config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client: %w", err)
	}

	return &Client{restConfig: restConfig, clientset: clientset, streamFn: newSPDYStream}, nil
}

// StatusCallback receives opaque status objects as the exec stream
// transitions (spec.md §6). status.Status is "Starting" (once, on the first
// byte of output from the attempt that runs), "Success" or "Failure";
// status.Message carries an error description.
type StatusCallback func(status Status)

// Status is the passthrough status object forwarded to the client as a
// {type:"status"} frame.
type Status struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// AttachResult reports which candidate succeeded and the full list tried.
type AttachResult struct {
	Candidates []string
}

// Attach opens the upstream exec stream and pipes bytes until ctx is
// canceled or the stream ends. It implements the shell-candidate fallback
// of spec.md §4.4: with a caller-supplied Command, exactly one attempt is
// made; otherwise shellCandidates are tried in order, falling through
// only on "command not found" class errors.
//
// stdin is read for the process's stdin; sink receives merged
// stdout+stderr and supplies resize events via remotecommand.TerminalSizeQueue.
func (c *Client) Attach(ctx context.Context, target Target, stdin io.Reader, sink *ResizableSink, onStatus StatusCallback) (*AttachResult, error) {
	if err := c.checkPodExists(ctx, target); err != nil {
		return nil, err
	}

	// startOnce guards the "Starting" signal across every candidate
	// attempt: it fires on the first byte of real output from whichever
	// attempt actually works, not before a blind attempt that may still
	// turn out to be a missing-shell failure. Firing eagerly per-attempt
	// would announce "started" during a doomed candidate and lose the
	// client's first keystroke, the fallback bug flagged in
	// other_examples/airflow-cn-pod-websocket-terminal__terminal.go.
	startOnce := &sync.Once{}

	if len(target.Command) > 0 {
		err := c.attachOnce(ctx, target, target.Command, stdin, sink, onStatus, startOnce)
		if err != nil {
			return nil, err
		}
		return &AttachResult{Candidates: []string{strings.Join(target.Command, " ")}}, nil
	}

	var tried []string
	for _, candidate := range shellCandidates {
		tried = append(tried, strings.Join(candidate, " "))
		err := c.attachOnce(ctx, target, candidate, stdin, sink, onStatus, startOnce)
		if err == nil {
			return &AttachResult{Candidates: tried}, nil
		}
		if !isNoShellError(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("No shell found in container. Tried: %s", strings.Join(tried, ", "))
}

// checkPodExists gives a clean, specific error for the common case of a
// stale/typo'd pod reference, instead of surfacing whatever opaque error
// the exec sub-resource itself would produce (grounded on the teacher's
// use of k8s.io/apimachinery/pkg/api/errors for exactly this kind of
// classification in pkg/agent/certstore_k8s.go).
func (c *Client) checkPodExists(ctx context.Context, target Target) error {
	_, err := c.clientset.CoreV1().Pods(target.Namespace).Get(ctx, target.Pod, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("pod %s/%s not found", target.Namespace, target.Pod)
	}
	return fmt.Errorf("check pod %s/%s: %w", target.Namespace, target.Pod, err)
}

// attachOnce performs a single exec attach+stream attempt with argv.
func (c *Client) attachOnce(ctx context.Context, target Target, argv []string, stdin io.Reader, sink *ResizableSink, onStatus StatusCallback, startOnce *sync.Once) error {
	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(target.Pod).
		Namespace(target.Namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: target.Container,
		Command:   argv,
		Stdin:     true,
		Stdout:    true,
		Stderr:    true,
		TTY:       true,
	}, scheme.ParameterCodec)

	out := &startSignalWriter{out: sink, once: startOnce, onStatus: onStatus}

	err := c.streamFn(ctx, c.restConfig, req, remotecommand.StreamOptions{
		Stdin:             stdin,
		Stdout:            out,
		Stderr:            out,
		TerminalSizeQueue: sink,
		Tty:               true,
	})

	if err == nil {
		AttachSuccesses.Add(1)
	} else if !isNoShellError(err) {
		AttachFailures.Add(1)
	}

	if onStatus != nil {
		if err == nil {
			onStatus(Status{Status: "Success"})
		} else if !isNoShellError(err) {
			onStatus(Status{Status: "Failure", Message: err.Error()})
		}
	}

	return err
}

// startSignalWriter forwards to out and fires onStatus("Starting") once, on
// the first byte written. The container has only ever produced output once
// the candidate command is genuinely running, so this is the earliest point
// at which announcing "started" to the client cannot later be contradicted
// by a missing-shell failure on this same attempt.
type startSignalWriter struct {
	out      io.Writer
	once     *sync.Once
	onStatus StatusCallback
}

func (w *startSignalWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.once.Do(func() {
			if w.onStatus != nil {
				w.onStatus(Status{Status: "Starting"})
			}
		})
	}
	return w.out.Write(p)
}

func isNoShellError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, substr := range noShellSubstrings {
		if strings.Contains(msg, strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

