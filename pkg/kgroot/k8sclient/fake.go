package k8sclient

import "context"

// FakeClusterAPI is an in-memory ClusterAPI for tests: events and
// resources are keyed by "kind/name" within a namespace.
type FakeClusterAPI struct {
	Events    map[string][]RawEvent
	Resources map[string]*Resource
}

// NewFakeClusterAPI returns an empty fake.
func NewFakeClusterAPI() *FakeClusterAPI {
	return &FakeClusterAPI{
		Events:    make(map[string][]RawEvent),
		Resources: make(map[string]*Resource),
	}
}

func fakeKey(namespace, kind, name string) string {
	return namespace + "/" + kind + "/" + name
}

// WithEvents registers events to be returned for kind/name in namespace.
func (f *FakeClusterAPI) WithEvents(namespace, kind, name string, events ...RawEvent) *FakeClusterAPI {
	f.Events[fakeKey(namespace, kind, name)] = events
	return f
}

// WithResource registers a resource to be returned for kind/name in
// namespace, e.g. to carry ownerReferences for chain traversal.
func (f *FakeClusterAPI) WithResource(namespace, kind, name string, resource *Resource) *FakeClusterAPI {
	f.Resources[fakeKey(namespace, kind, name)] = resource
	return f
}

func (f *FakeClusterAPI) ListEvents(_ context.Context, _, namespace, kind, name string) ([]RawEvent, error) {
	return f.Events[fakeKey(namespace, kind, name)], nil
}

func (f *FakeClusterAPI) GetResource(_ context.Context, _, namespace, kind, name string) (*Resource, error) {
	r, ok := f.Resources[fakeKey(namespace, kind, name)]
	if !ok {
		return nil, nil
	}
	return r, nil
}
