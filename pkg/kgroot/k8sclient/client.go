// Package k8sclient represents the cluster-scoped HTTP proxy KGroot
// fetches events and resources through. It is the in-core boundary to
// the Kubernetes-operator HTTP proxy the top-level design calls out of
// scope: ClusterAPI is an interface so event extraction can be tested
// against a fake instead of a live proxy, and HTTPClusterAPI is the
// production implementation, grounded on the REST-over-http.Client
// style of legator's api_client.go (cmd/legator/api_client.go).
package k8sclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RawEvent is the subset of a core/v1 Event this package consumes,
// kept untyped relative to corev1.Event because the proxy's JSON shape
// is a pass-through of whatever API server version the target cluster
// runs.
type RawEvent struct {
	Metadata        metav1.ObjectMeta `json:"metadata"`
	InvolvedObject  InvolvedObject    `json:"involvedObject"`
	Reason          string            `json:"reason"`
	Message         string            `json:"message"`
	Type            string            `json:"type"`
	Count           int               `json:"count"`
	FirstTimestamp  string            `json:"firstTimestamp"`
	LastTimestamp   string            `json:"lastTimestamp"`
	Source          EventSource       `json:"source"`
}

// InvolvedObject is the object an Event is about.
type InvolvedObject struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
}

// EventSource names the component that generated an Event.
type EventSource struct {
	Component string `json:"component"`
}

// eventList is the envelope the events endpoint returns.
type eventList struct {
	Items []RawEvent `json:"items"`
}

// Resource is the generic shape ClusterAPI.GetResource returns: just
// enough to read ownerReferences and status fields, since callers
// decode Status themselves per resource kind.
type Resource struct {
	Metadata metav1.ObjectMeta `json:"metadata"`
	Status   json.RawMessage   `json:"status"`
	Spec     json.RawMessage   `json:"spec"`
}

// ClusterAPI is the boundary kgroot's event extractor calls through.
// Implemented by HTTPClusterAPI in production and by a fake in tests.
type ClusterAPI interface {
	// ListEvents returns Warning events whose involvedObject matches
	// kind/name in namespace.
	ListEvents(ctx context.Context, kubecontext, namespace, kind, name string) ([]RawEvent, error)

	// GetResource fetches one resource by kind/name, used to read its
	// ownerReferences and status.
	GetResource(ctx context.Context, kubecontext, namespace, kind, name string) (*Resource, error)
}

// HTTPClusterAPI calls a cluster-scoped HTTP proxy exposing the
// Kubernetes API surface under /api/v1/clusters/{kubecontext}/...,
// mirroring the Python extractor's operator_api_url convention.
type HTTPClusterAPI struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClusterAPI returns a ClusterAPI backed by the proxy at
// baseURL (e.g. "http://localhost:4688").
func NewHTTPClusterAPI(baseURL string) *HTTPClusterAPI {
	return &HTTPClusterAPI{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClusterAPI) ListEvents(ctx context.Context, kubecontext, namespace, kind, name string) ([]RawEvent, error) {
	path := fmt.Sprintf(
		"/api/v1/clusters/%s/api/v1/namespaces/%s/events?fieldSelector=type=Warning,involvedObject.name=%s,involvedObject.kind=%s",
		kubecontext, namespace, name, kind,
	)
	var list eventList
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

// resourcePaths maps a Kind to its plural path segment and API group,
// mirroring the Python extractor's kind_to_path table plus its
// apps/v1 vs batch/v1 vs core special-casing.
var resourcePaths = map[string]struct {
	plural string
	apiPath string // "" for core/v1
}{
	"Pod":         {"pods", ""},
	"ReplicaSet":  {"replicasets", "apis/apps/v1"},
	"Deployment":  {"deployments", "apis/apps/v1"},
	"StatefulSet": {"statefulsets", "apis/apps/v1"},
	"DaemonSet":   {"daemonsets", "apis/apps/v1"},
	"Job":         {"jobs", "apis/batch/v1"},
	"CronJob":     {"cronjobs", "apis/batch/v1"},
}

func (c *HTTPClusterAPI) GetResource(ctx context.Context, kubecontext, namespace, kind, name string) (*Resource, error) {
	mapping, ok := resourcePaths[kind]
	if !ok {
		return nil, fmt.Errorf("k8sclient: unsupported resource kind %q", kind)
	}

	apiPath := mapping.apiPath
	if apiPath == "" {
		apiPath = "api/v1"
	}
	path := fmt.Sprintf("/api/v1/clusters/%s/%s/namespaces/%s/%s/%s", kubecontext, apiPath, namespace, mapping.plural, name)

	var resource Resource
	if err := c.getJSON(ctx, path, &resource); err != nil {
		return nil, err
	}
	return &resource, nil
}

func (c *HTTPClusterAPI) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("cluster api request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("cluster api error (%d): %s", resp.StatusCode, msg)
	}

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode cluster api response: %w", err)
	}
	return nil
}
