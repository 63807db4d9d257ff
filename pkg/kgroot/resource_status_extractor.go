package kgroot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/agentkube/kroot-orchestrator/pkg/kgroot/k8sclient"
	"github.com/agentkube/kroot-orchestrator/pkg/models"
)

// FetchOwnerEvents fetches a resource by kind/name to read its
// ownerReferences, then fetches events for each owner directly (one
// level, not recursive) — the standalone counterpart
// fetchEventsChain already folds into recursive traversal;
// FetchOwnerEvents is kept as its own entry point because
// original_source's fetch_owner_events is called directly by callers
// that already have events for the resource itself and only want the
// immediate owners' events, without re-walking the chain.
func (e *Extractor) FetchOwnerEvents(ctx context.Context, kubecontext, namespace, resourceName, resourceType string) []models.KGrootEvent {
	kind := NormalizeKind(resourceType)

	resource, err := e.api.GetResource(ctx, kubecontext, namespace, kind, resourceName)
	if err != nil || resource == nil {
		return nil
	}

	var events []models.KGrootEvent
	for _, owner := range resource.Metadata.OwnerReferences {
		if owner.Kind == "" || owner.Name == "" {
			continue
		}
		raw, err := e.api.ListEvents(ctx, kubecontext, namespace, owner.Kind, owner.Name)
		if err != nil {
			continue
		}
		for _, item := range raw {
			if evt, ok := parseK8sEvent(item); ok {
				events = append(events, evt)
			}
		}
	}
	return events
}

// ExtractResourceStatusEvents inspects a resource's status (and, for
// CronJobs, its spec) for degraded conditions and synthesizes
// KGrootEvents from them — the counterpart to the Kubernetes-events-API
// path in fetchEventsChain, covering the cases original_source derives
// straight from resource status rather than from an Event object.
// kind must already be normalized (see NormalizeKind).
func ExtractResourceStatusEvents(resource *k8sclient.Resource, kind, name, namespace string) ([]models.KGrootEvent, error) {
	if resource == nil {
		return nil, nil
	}

	switch kind {
	case "Pod":
		return extractPodEvents(resource, name, namespace)
	case "Deployment":
		return extractDeploymentEvents(resource, name, namespace)
	case "StatefulSet":
		return extractStatefulSetEvents(resource, name, namespace)
	case "DaemonSet":
		return extractDaemonSetEvents(resource, name, namespace)
	case "Job":
		return extractJobEvents(resource, name, namespace)
	case "CronJob":
		return extractCronJobEvents(resource, name, namespace)
	case "ReplicaSet":
		return extractReplicaSetEvents(resource, name, namespace)
	default:
		return nil, nil
	}
}

func extractPodEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status corev1.PodStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode pod status: %w", err)
		}
	}

	var events []models.KGrootEvent

	phase := string(status.Phase)
	if phase == "" {
		phase = "Unknown"
	}
	if phase == "Failed" || phase == "Unknown" {
		eventType := "POD_UNKNOWN"
		if phase == "Failed" {
			eventType = "POD_FAILED"
		}
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("pod_%s_%s", name, strings.ToLower(phase)),
			Timestamp:    podStartTime(status),
			RawType:      eventType,
			AbstractType: "POD_LIFECYCLE_FAILURE",
			Location:     "pod:" + name,
			Severity:     "critical",
			Details:      map[string]any{"phase": phase, "namespace": namespace},
			RawMessage:   status.Message,
		})
	}

	for _, cs := range status.ContainerStatuses {
		if cs.State.Waiting != nil {
			reason := cs.State.Waiting.Reason
			if reason == "" {
				reason = "Unknown"
			}
			events = append(events, createContainerEvent(cs.Name, name, namespace, reason, cs.State.Waiting.Message))
		}
		if cs.State.Terminated != nil {
			reason := cs.State.Terminated.Reason
			if reason == "" {
				reason = "Unknown"
			}
			events = append(events, createTerminationEvent(cs.Name, name, namespace, reason, int(cs.State.Terminated.ExitCode)))
		}
	}

	return events, nil
}

func podStartTime(status corev1.PodStatus) time.Time {
	if status.StartTime != nil {
		return status.StartTime.Time.UTC()
	}
	return time.Now().UTC()
}

// containerWaitingTypeMap mirrors _create_container_event's
// event_type_map; later duplicate keys in the Python dict literal
// (CrashLoopBackOff, RunContainerError) simply overwrite earlier ones
// at class-definition time, so only the final mapping is reachable —
// this table keeps only that final value for each reason.
var containerWaitingTypeMap = map[string]string{
	"ImagePullBackOff":           "IMAGE_PULL_FAILED",
	"ErrImagePull":               "IMAGE_PULL_FAILED",
	"InvalidImageName":           "INVALID_IMAGE_NAME",
	"RegistryUnavailable":        "REGISTRY_UNAVAILABLE",
	"CreateContainerConfigError": "CONFIG_ERROR",
	"CreateContainerError":       "CONTAINER_CREATE_ERROR",
	"RunContainerError":          "RUN_CONTAINER_ERROR",
	"CrashLoopBackOff":           "CRASHLOOP_BACKOFF",
	"PodInitializing":            "POD_INITIALIZING",
	"ContainerCreating":          "CONTAINER_CREATING",
	"CreatePodSandboxError":      "SANDBOX_CREATE_ERROR",
	"NetworkSetupError":          "NETWORK_SETUP_ERROR",
}

var containerWaitingAbstractMap = map[string]string{
	"IMAGE_PULL_FAILED":     "IMAGE_PULL_FAILURE",
	"INVALID_IMAGE_NAME":    "INVALID_IMAGE_NAME",
	"REGISTRY_UNAVAILABLE":  "REGISTRY_UNAVAILABLE",
	"CRASHLOOP_BACKOFF":     "POD_CRASH_LOOP",
	"CONFIG_ERROR":          "CONFIGURATION_ERROR",
	"CONTAINER_CREATE_ERROR": "CONTAINER_CREATE_FAILURE",
	"RUN_CONTAINER_ERROR":   "CONTAINER_RUNTIME_ERROR",
	"SANDBOX_CREATE_ERROR":  "POD_SANDBOX_FAILURE",
	"NETWORK_SETUP_ERROR":   "NETWORK_NOT_READY",
}

func createContainerEvent(containerName, podName, namespace, reason, message string) models.KGrootEvent {
	eventType, ok := containerWaitingTypeMap[reason]
	if !ok {
		eventType = "CONTAINER_WAITING_" + strings.ToUpper(reason)
	}
	abstractType, ok := containerWaitingAbstractMap[eventType]
	if !ok {
		abstractType = "CONTAINER_WAITING"
	}

	severity := "warning"
	if strings.Contains(reason, "CrashLoop") {
		severity = "critical"
	}

	return models.KGrootEvent{
		ID:           fmt.Sprintf("container_%s_waiting", containerName),
		Timestamp:    time.Now().UTC(),
		RawType:      eventType,
		AbstractType: abstractType,
		Location:     fmt.Sprintf("pod:%s/container:%s", podName, containerName),
		Severity:     severity,
		Details:      map[string]any{"reason": reason, "message": message, "namespace": namespace},
		RawMessage:   message,
	}
}

func createTerminationEvent(containerName, podName, namespace, reason string, exitCode int) models.KGrootEvent {
	severity := "info"
	if exitCode != 0 {
		severity = "critical"
	}

	return models.KGrootEvent{
		ID:           fmt.Sprintf("container_%s_terminated", containerName),
		Timestamp:    time.Now().UTC(),
		RawType:      "CONTAINER_TERMINATED_" + strings.ToUpper(reason),
		AbstractType: abstractTerminationReason(reason, exitCode),
		Location:     fmt.Sprintf("pod:%s/container:%s", podName, containerName),
		Severity:     severity,
		Details:      map[string]any{"reason": reason, "exit_code": exitCode, "namespace": namespace},
	}
}

// abstractTerminationReason mirrors _abstract_termination_reason's
// exit-code-aware classification.
func abstractTerminationReason(reason string, exitCode int) string {
	switch {
	case reason == "OOMKilled" || exitCode == 137:
		return "OOM_KILLED"
	case exitCode == 143:
		return "SIGTERM"
	case exitCode == 1:
		return "ERROR_EXIT"
	case exitCode == 0:
		return "NORMAL_EXIT"
	default:
		return "ABNORMAL_TERMINATION"
	}
}

func extractDeploymentEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status appsv1.DeploymentStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode deployment status: %w", err)
		}
	}

	if status.ReadyReplicas >= status.Replicas {
		return nil, nil
	}
	return []models.KGrootEvent{{
		ID:           fmt.Sprintf("deployment_%s_replicas_not_ready", name),
		Timestamp:    time.Now().UTC(),
		RawType:      "DEPLOYMENT_REPLICAS_NOT_READY",
		AbstractType: "DEPLOYMENT_DEGRADED",
		Location:     "deployment:" + name,
		Severity:     "warning",
		Details:      map[string]any{"desired": status.Replicas, "ready": status.ReadyReplicas, "namespace": namespace},
	}}, nil
}

func extractStatefulSetEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status appsv1.StatefulSetStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode statefulset status: %w", err)
		}
	}

	var events []models.KGrootEvent

	if status.ReadyReplicas < status.Replicas {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("statefulset_%s_replicas_not_ready", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "STATEFULSET_REPLICAS_NOT_READY",
			AbstractType: "STATEFULSET_DEGRADED",
			Location:     "statefulset:" + name,
			Severity:     "warning",
			Details:      map[string]any{"desired": status.Replicas, "ready": status.ReadyReplicas, "namespace": namespace},
		})
	}

	if status.CurrentReplicas != status.UpdatedReplicas {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("statefulset_%s_update_stuck", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "STATEFULSET_UPDATE_STUCK",
			AbstractType: "STATEFULSET_UPDATE_FAILURE",
			Location:     "statefulset:" + name,
			Severity:     "warning",
			Details:      map[string]any{"current": status.CurrentReplicas, "updated": status.UpdatedReplicas, "namespace": namespace},
		})
	}

	return events, nil
}

func extractDaemonSetEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status appsv1.DaemonSetStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode daemonset status: %w", err)
		}
	}

	var events []models.KGrootEvent

	if status.CurrentNumberScheduled < status.DesiredNumberScheduled {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("daemonset_%s_not_scheduled", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "DAEMONSET_NOT_SCHEDULED",
			AbstractType: "DAEMONSET_SCHEDULING_FAILURE",
			Location:     "daemonset:" + name,
			Severity:     "warning",
			Details:      map[string]any{"desired": status.DesiredNumberScheduled, "current": status.CurrentNumberScheduled, "namespace": namespace},
		})
	}

	if status.NumberReady < status.DesiredNumberScheduled {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("daemonset_%s_not_ready", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "DAEMONSET_PODS_NOT_READY",
			AbstractType: "DAEMONSET_DEGRADED",
			Location:     "daemonset:" + name,
			Severity:     "warning",
			Details:      map[string]any{"desired": status.DesiredNumberScheduled, "ready": status.NumberReady, "namespace": namespace},
		})
	}

	return events, nil
}

func extractJobEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status batchv1.JobStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode job status: %w", err)
		}
	}

	var events []models.KGrootEvent

	if status.Failed > 0 {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("job_%s_failed", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "JOB_FAILED",
			AbstractType: "JOB_FAILURE",
			Location:     "job:" + name,
			Severity:     "critical",
			Details:      map[string]any{"failed_count": status.Failed, "namespace": namespace},
		})
	}

	if status.Active > 0 && status.Succeeded == 0 {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("job_%s_stuck", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "JOB_STUCK",
			AbstractType: "JOB_STUCK",
			Location:     "job:" + name,
			Severity:     "warning",
			Details:      map[string]any{"active": status.Active, "namespace": namespace},
		})
	}

	return events, nil
}

func extractCronJobEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status batchv1.CronJobStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode cronjob status: %w", err)
		}
	}
	var spec batchv1.CronJobSpec
	if len(resource.Spec) > 0 {
		if err := json.Unmarshal(resource.Spec, &spec); err != nil {
			return nil, fmt.Errorf("decode cronjob spec: %w", err)
		}
	}

	var events []models.KGrootEvent

	if len(status.Active) > 0 {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("cronjob_%s_jobs_active", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "CRONJOB_JOBS_ACTIVE",
			AbstractType: "CRONJOB_RUNNING",
			Location:     "cronjob:" + name,
			Severity:     "info",
			Details:      map[string]any{"active_count": len(status.Active), "namespace": namespace},
		})
	}

	if spec.Suspend != nil && *spec.Suspend {
		events = append(events, models.KGrootEvent{
			ID:           fmt.Sprintf("cronjob_%s_suspended", name),
			Timestamp:    time.Now().UTC(),
			RawType:      "CRONJOB_SUSPENDED",
			AbstractType: "CRONJOB_SUSPENDED",
			Location:     "cronjob:" + name,
			Severity:     "warning",
			Details:      map[string]any{"suspended": true, "namespace": namespace},
		})
	}

	return events, nil
}

func extractReplicaSetEvents(resource *k8sclient.Resource, name, namespace string) ([]models.KGrootEvent, error) {
	var status appsv1.ReplicaSetStatus
	if len(resource.Status) > 0 {
		if err := json.Unmarshal(resource.Status, &status); err != nil {
			return nil, fmt.Errorf("decode replicaset status: %w", err)
		}
	}

	if status.ReadyReplicas >= status.Replicas {
		return nil, nil
	}
	return []models.KGrootEvent{{
		ID:           fmt.Sprintf("replicaset_%s_replicas_not_ready", name),
		Timestamp:    time.Now().UTC(),
		RawType:      "REPLICASET_REPLICAS_NOT_READY",
		AbstractType: "REPLICASET_DEGRADED",
		Location:     "replicaset:" + name,
		Severity:     "warning",
		Details:      map[string]any{"desired": status.Replicas, "ready": status.ReadyReplicas, "namespace": namespace},
	}}, nil
}

// errorLogPatterns mirrors _is_error_log's regex list.
var errorLogPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bERROR\b`),
	regexp.MustCompile(`(?i)\bFATAL\b`),
	regexp.MustCompile(`(?i)\bException\b`),
	regexp.MustCompile(`(?i)\bfailed\b`),
}

func isErrorLog(line string) bool {
	for _, p := range errorLogPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

var logTimestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}`)

// extractTimestampFromLog mirrors _extract_timestamp_from_log: best
// effort ISO-ish timestamp extraction, falling back to now.
func extractTimestampFromLog(line string) time.Time {
	match := logTimestampPattern.FindString(line)
	if match == "" {
		return time.Now().UTC()
	}
	normalized := strings.Replace(match, " ", "T", 1) + "Z"
	if t, err := time.Parse(time.RFC3339, normalized); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// ExtractFromLogs scans raw container logs line by line for error
// patterns, synthesizing one KGrootEvent per matching line, then
// deduplicates and sorts the result — mirrors extract_from_logs.
func ExtractFromLogs(logs, podName string) []models.KGrootEvent {
	if podName == "" {
		podName = "unknown"
	}

	var events []models.KGrootEvent
	scanner := bufio.NewScanner(strings.NewReader(logs))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	i := 0
	for scanner.Scan() {
		line := scanner.Text()
		if isErrorLog(line) {
			events = append(events, models.KGrootEvent{
				ID:           fmt.Sprintf("log_error_%s_%d", podName, i),
				Timestamp:    extractTimestampFromLog(line),
				RawType:      "LOG_ERROR",
				AbstractType: "APPLICATION_ERROR",
				Location:     "pod:" + podName,
				Severity:     "warning",
				Details:      map[string]any{"log_line": line},
				RawMessage:   line,
			})
		}
		i++
	}

	return DeduplicateAndSort(events)
}
