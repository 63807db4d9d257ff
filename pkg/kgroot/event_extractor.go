// Package kgroot translates raw cluster signal — Kubernetes events,
// container statuses, owner-reference chains — into the abstracted
// KGrootEvent nodes the correlation engine, failure-propagation graph
// builder, and root-cause ranker all operate on. Grounded directly on
// original_source's kgroot/*.py (the Python implementation this
// package was distilled from): async/await becomes goroutines and
// contexts, dataclasses become structs, the reason->category if/elif
// ladder becomes an ordered Go switch with the same branch order
// (including its quirks — see abstractEventType).
package kgroot

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agentkube/kroot-orchestrator/pkg/kgroot/k8sclient"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// MaxOwnerChainDepth bounds owner-reference traversal (DESIGN.md Open
// Question d) to guard against pathological custom-resource ownership
// cycles; deep enough for Pod -> ReplicaSet -> Deployment plus a
// couple of CRD-controller hops.
const MaxOwnerChainDepth = 6

// kindPathNames normalizes a plural resource-type path segment (as it
// appears in an API URL or a tool argument) to its proper Kind name.
var kindPathNames = map[string]string{
	"pods":                   "Pod",
	"deployments":            "Deployment",
	"statefulsets":           "StatefulSet",
	"daemonsets":             "DaemonSet",
	"jobs":                   "Job",
	"cronjobs":               "CronJob",
	"replicasets":            "ReplicaSet",
	"services":               "Service",
	"ingresses":              "Ingress",
	"endpoints":              "Endpoints",
	"networkpolicies":        "NetworkPolicy",
	"persistentvolumeclaims": "PersistentVolumeClaim",
	"persistentvolumes":      "PersistentVolume",
	"storageclasses":         "StorageClass",
	"configmaps":             "ConfigMap",
	"secrets":                "Secret",
	"nodes":                  "Node",
	"namespaces":             "Namespace",
	"serviceaccounts":        "ServiceAccount",
	"roles":                  "Role",
	"rolebindings":           "RoleBinding",
	"clusterroles":           "ClusterRole",
	"clusterrolebindings":    "ClusterRoleBinding",
}

// ownerChainKinds is the set of Kinds GetResource can look up for
// owner-reference traversal — mirrors k8sclient.resourcePaths.
var ownerChainKinds = map[string]bool{
	"Pod": true, "ReplicaSet": true, "Deployment": true,
	"StatefulSet": true, "DaemonSet": true, "Job": true, "CronJob": true,
}

// NormalizeKind maps a plural resource-type path segment to its Kind,
// falling back to a capitalized guess for anything not in the table.
func NormalizeKind(resourceType string) string {
	if kind, ok := kindPathNames[strings.ToLower(resourceType)]; ok {
		return kind
	}
	if resourceType == "" {
		return resourceType
	}
	return strings.ToUpper(resourceType[:1]) + resourceType[1:]
}

// Extractor extracts and abstracts KGrootEvents from a cluster via a
// ClusterAPI, following owner-reference chains to also pull events for
// a resource's parent workloads.
type Extractor struct {
	api k8sclient.ClusterAPI
}

// NewExtractor returns an Extractor backed by api.
func NewExtractor(api k8sclient.ClusterAPI) *Extractor {
	return &Extractor{api: api}
}

// ExtractFromResource fetches events for resourceType/resourceName in
// namespace, follows its owner-reference chain for parent workload
// events, then deduplicates and sorts the result chronologically.
func (e *Extractor) ExtractFromResource(ctx context.Context, resourceType, resourceName, namespace, kubecontext string) ([]models.KGrootEvent, error) {
	kind := NormalizeKind(resourceType)

	events, err := e.fetchEventsChain(ctx, kubecontext, namespace, kind, resourceName, 0)
	if err != nil {
		return nil, err
	}
	return DeduplicateAndSort(events), nil
}

// fetchEventsChain fetches events for kind/name, then recurses up the
// ownerReferences chain, bounded by MaxOwnerChainDepth.
func (e *Extractor) fetchEventsChain(ctx context.Context, kubecontext, namespace, kind, name string, depth int) ([]models.KGrootEvent, error) {
	var events []models.KGrootEvent

	raw, err := e.api.ListEvents(ctx, kubecontext, namespace, kind, name)
	if err != nil {
		slog.Warn("kgroot: failed to fetch events", "kind", kind, "name", name, "error", err)
	} else {
		for _, item := range raw {
			if evt, ok := parseK8sEvent(item); ok {
				events = append(events, evt)
			}
		}
	}

	if depth >= MaxOwnerChainDepth || !ownerChainKinds[kind] {
		return events, nil
	}

	resource, err := e.api.GetResource(ctx, kubecontext, namespace, kind, name)
	if err != nil {
		slog.Warn("kgroot: failed to fetch resource for owner chain", "kind", kind, "name", name, "error", err)
		return events, nil
	}
	if resource == nil || len(resource.Metadata.OwnerReferences) == 0 {
		return events, nil
	}

	for _, owner := range resource.Metadata.OwnerReferences {
		if owner.Kind == "" || owner.Name == "" {
			continue
		}
		ownerEvents, err := e.fetchEventsChain(ctx, kubecontext, namespace, owner.Kind, owner.Name, depth+1)
		if err != nil {
			return nil, err
		}
		events = append(events, ownerEvents...)
	}

	return events, nil
}

// parseK8sEvent converts one raw Kubernetes Event into a KGrootEvent,
// abstracting its reason to a generic failure category.
func parseK8sEvent(item k8sclient.RawEvent) (models.KGrootEvent, bool) {
	reason := item.Reason
	if reason == "" {
		reason = "Unknown"
	}

	ts := item.LastTimestamp
	if ts == "" {
		ts = item.FirstTimestamp
	}

	objKind := item.InvolvedObject.Kind
	if objKind == "" {
		objKind = "Unknown"
	}
	objName := item.InvolvedObject.Name
	if objName == "" {
		objName = "unknown"
	}

	return models.KGrootEvent{
		ID:           "k8s_event_" + item.Metadata.Name,
		Timestamp:    parseK8sTimestamp(ts),
		RawType:      normalizeEventType(reason),
		AbstractType: abstractEventType(reason),
		Location:     strings.ToLower(objKind) + ":" + objName,
		Severity:     determineSeverity(item.Type, reason),
		Details: map[string]any{
			"reason":           reason,
			"message":          item.Message,
			"type":             item.Type,
			"count":            item.Count,
			"namespace":        item.InvolvedObject.Namespace,
			"source_component": item.Source.Component,
		},
		RawMessage: item.Message,
	}, true
}

// normalizeEventType mirrors the Python extractor's
// `reason.upper().replace(" ", "_")` event_type normalization.
func normalizeEventType(reason string) string {
	return strings.ToUpper(strings.ReplaceAll(reason, " ", "_"))
}

// criticalReasons are reasons treated as critical severity regardless
// of the event's own Normal/Warning type.
var criticalReasons = []string{
	"Failed", "BackOff", "FailedScheduling", "FailedMount",
	"FailedAttachVolume", "FailedCreatePodSandBox", "OOMKilling",
}

func determineSeverity(eventType, reason string) string {
	if eventType == "Warning" {
		return "critical"
	}
	for _, r := range criticalReasons {
		if strings.Contains(reason, r) {
			return "critical"
		}
	}
	return "info"
}

// abstractEventType abstracts a Kubernetes event reason to a generic
// failure category. This is a direct line-for-line port of
// original_source's _abstract_event_type if/elif ladder, including its
// branch order: a reason matching an earlier, broader branch (e.g.
// "probe") never reaches a later, more specific one (e.g.
// "readinessprobe") even though both substrings are present — that is
// the original's behavior, not a Go-side bug, so the order is kept
// exactly rather than "fixed".
func abstractEventType(reason string) string {
	lower := strings.ToLower(reason)
	has := func(substr string) bool { return strings.Contains(lower, substr) }

	switch {
	// Image/Registry Issues
	case has("pull") && has("image"):
		return "IMAGE_PULL_FAILURE"
	case has("imagegc"):
		return "IMAGE_GC_FAILURE"
	case has("invalidimagename"):
		return "INVALID_IMAGE_NAME"
	case has("registryunavailable"):
		return "REGISTRY_UNAVAILABLE"

	// Pod Lifecycle Issues
	case has("crash") || has("backoff"):
		return "POD_CRASH_LOOP"
	case has("oom"):
		return "OOM_KILLED"
	case has("evicted"):
		return "POD_EVICTED"
	case has("preempted"):
		return "POD_PREEMPTED"
	case has("killing"):
		return "POD_TERMINATION"
	case has("failedkillpod"):
		return "FAILED_KILL_POD"
	case has("failedprestophook"):
		return "PRESTOP_HOOK_FAILURE"
	case has("failedpoststarthook"):
		return "POSTSTART_HOOK_FAILURE"

	// Scheduling Issues
	case has("failed") && has("scheduling"):
		return "SCHEDULING_FAILURE"
	case has("insufficientmemory") || has("insufficient memory"):
		return "INSUFFICIENT_MEMORY"
	case has("insufficientcpu") || has("insufficient cpu"):
		return "INSUFFICIENT_CPU"
	case has("outofdisk"):
		return "OUT_OF_DISK"

	// Volume/Storage Issues
	case has("failed") && has("mount"):
		return "VOLUME_MOUNT_FAILURE"
	case has("failedattachvolume"):
		return "VOLUME_ATTACH_FAILURE"
	case has("faileddetachvolume"):
		return "VOLUME_DETACH_FAILURE"
	case has("volumeresizefailed"):
		return "VOLUME_RESIZE_FAILURE"
	case has("provisioningfailed"):
		return "VOLUME_PROVISIONING_FAILURE"
	case has("failedbinding"):
		return "VOLUME_BINDING_FAILURE"

	// Network Issues
	case has("failedcreateendpoint"):
		return "ENDPOINT_CREATE_FAILURE"
	case has("failedtoupdateendpoint"):
		return "ENDPOINT_UPDATE_FAILURE"
	case has("networknotready"):
		return "NETWORK_NOT_READY"
	case has("dnsconfigforming") || has("dns"):
		return "DNS_FAILURE"
	case has("failedtoresolve"):
		return "DNS_RESOLUTION_FAILURE"

	// Health Check Issues — "unhealthy"/"probe" is intentionally ahead
	// of the specific probe-kind branches below (see doc comment).
	case has("unhealthy") || has("probe"):
		return "HEALTH_CHECK_FAILURE"
	case has("readinessprobe"):
		return "READINESS_PROBE_FAILURE"
	case has("livenessprobe"):
		return "LIVENESS_PROBE_FAILURE"
	case has("startupprobe"):
		return "STARTUP_PROBE_FAILURE"

	// Node Issues
	case has("nodenotready"):
		return "NODE_NOT_READY"
	case has("nodenotschedulable"):
		return "NODE_NOT_SCHEDULABLE"
	case has("nodepressure"):
		return "NODE_PRESSURE"
	case has("kubeletnotready"):
		return "KUBELET_NOT_READY"

	// Resource/Quota Issues
	case has("failedcreate"):
		return "RESOURCE_CREATE_FAILURE"
	case has("exceededquota") || has("quota"):
		return "QUOTA_EXCEEDED"

	// Security Issues
	case has("securitycontextdenied"):
		return "SECURITY_CONTEXT_DENIED"
	case has("forbidden") || has("unauthorized"):
		return "RBAC_PERMISSION_DENIED"

	default:
		return normalizeEventType(reason)
	}
}

func parseK8sTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// DeduplicateAndSort removes events sharing a DedupeKey (keeping the
// first occurrence) and sorts the remainder chronologically, mirroring
// original_source's deduplicate_and_sort_events.
func DeduplicateAndSort(events []models.KGrootEvent) []models.KGrootEvent {
	if len(events) == 0 {
		return events
	}

	seen := make(map[string]bool, len(events))
	out := make([]models.KGrootEvent, 0, len(events))
	for _, evt := range events {
		key := evt.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, evt)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
