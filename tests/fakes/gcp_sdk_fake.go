package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/systmms/secretsync/internal/remote"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// FakeGCPSecretManagerClient is an in-memory remote.GCPSecretManagerAPI
type FakeGCPSecretManagerClient struct {
	mu sync.Mutex

	// Secrets maps full resource names (projects/X/secrets/Y) to their metadata
	Secrets map[string]*secretmanagerpb.Secret
	// Versions maps full secret names to their versions, oldest first
	Versions map[string][]*secretmanagerpb.SecretVersion
	// Payloads maps full version names to their data
	Payloads map[string][]byte
	// Errors maps full secret names to an error returned by every call on that secret
	Errors map[string]error
	// ListError is returned by ListSecrets
	ListError error

	// GetSecretFunc allows custom behavior for GetSecret
	GetSecretFunc func(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error)
	// CreateSecretFunc allows custom behavior for CreateSecret
	CreateSecretFunc func(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error)
	// AddSecretVersionFunc allows custom behavior for AddSecretVersion
	AddSecretVersionFunc func(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error)

	// Now stamps create times
	Now func() time.Time
}

var _ remote.GCPSecretManagerAPI = (*FakeGCPSecretManagerClient)(nil)

// NewFakeGCPSecretManagerClient creates an empty fake
func NewFakeGCPSecretManagerClient() *FakeGCPSecretManagerClient {
	return &FakeGCPSecretManagerClient{
		Secrets:  make(map[string]*secretmanagerpb.Secret),
		Versions: make(map[string][]*secretmanagerpb.SecretVersion),
		Payloads: make(map[string][]byte),
		Errors:   make(map[string]error),
		Now:      time.Now,
	}
}

func gcpSecretName(projectID, secretID string) string {
	return fmt.Sprintf("projects/%s/secrets/%s", projectID, secretID)
}

// AddSecretString adds a secret with one more enabled version
func (f *FakeGCPSecretManagerClient) AddSecretString(projectID, secretID, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := gcpSecretName(projectID, secretID)
	if _, ok := f.Secrets[name]; !ok {
		f.Secrets[name] = &secretmanagerpb.Secret{Name: name, CreateTime: timestamppb.New(f.Now())}
	}
	f.appendVersion(name, []byte(value))
}

// SetError makes every call on a secret fail with err
func (f *FakeGCPSecretManagerClient) SetError(projectID, secretID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[gcpSecretName(projectID, secretID)] = err
}

// VersionData returns the payloads stored for a secret, oldest first
func (f *FakeGCPSecretManagerClient) VersionData(projectID, secretID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, v := range f.Versions[gcpSecretName(projectID, secretID)] {
		out = append(out, string(f.Payloads[v.Name]))
	}
	return out
}

func (f *FakeGCPSecretManagerClient) appendVersion(secretName string, data []byte) *secretmanagerpb.SecretVersion {
	v := &secretmanagerpb.SecretVersion{
		Name:       fmt.Sprintf("%s/versions/%d", secretName, len(f.Versions[secretName])+1),
		State:      secretmanagerpb.SecretVersion_ENABLED,
		CreateTime: timestamppb.New(f.Now()),
	}
	f.Versions[secretName] = append(f.Versions[secretName], v)
	f.Payloads[v.Name] = append([]byte(nil), data...)
	return v
}

func notFound(name string) error {
	return status.Errorf(codes.NotFound, "Secret [%s] not found or has no versions", name)
}

// GetSecret returns secret metadata
func (f *FakeGCPSecretManagerClient) GetSecret(ctx context.Context, req *secretmanagerpb.GetSecretRequest) (*secretmanagerpb.Secret, error) {
	if f.GetSecretFunc != nil {
		return f.GetSecretFunc(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[req.GetName()]; err != nil {
		return nil, err
	}
	s, ok := f.Secrets[req.GetName()]
	if !ok {
		return nil, notFound(req.GetName())
	}
	return s, nil
}

// CreateSecret creates secret metadata without versions
func (f *FakeGCPSecretManagerClient) CreateSecret(ctx context.Context, req *secretmanagerpb.CreateSecretRequest) (*secretmanagerpb.Secret, error) {
	if f.CreateSecretFunc != nil {
		return f.CreateSecretFunc(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetParent() + "/secrets/" + req.GetSecretId()
	if err := f.Errors[name]; err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "Secret [%s] already exists", name)
	}

	s := &secretmanagerpb.Secret{
		Name:        name,
		CreateTime:  timestamppb.New(f.Now()),
		Labels:      req.GetSecret().GetLabels(),
		Replication: req.GetSecret().GetReplication(),
	}
	f.Secrets[name] = s
	return s, nil
}

// AddSecretVersion appends a version to an existing secret
func (f *FakeGCPSecretManagerClient) AddSecretVersion(ctx context.Context, req *secretmanagerpb.AddSecretVersionRequest) (*secretmanagerpb.SecretVersion, error) {
	if f.AddSecretVersionFunc != nil {
		return f.AddSecretVersionFunc(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[req.GetParent()]; err != nil {
		return nil, err
	}
	if _, ok := f.Secrets[req.GetParent()]; !ok {
		return nil, notFound(req.GetParent())
	}
	return f.appendVersion(req.GetParent(), req.GetPayload().GetData()), nil
}

// DeleteSecret removes a secret and its versions
func (f *FakeGCPSecretManagerClient) DeleteSecret(ctx context.Context, req *secretmanagerpb.DeleteSecretRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[req.GetName()]; err != nil {
		return err
	}
	if _, ok := f.Secrets[req.GetName()]; !ok {
		return notFound(req.GetName())
	}
	for _, v := range f.Versions[req.GetName()] {
		delete(f.Payloads, v.Name)
	}
	delete(f.Secrets, req.GetName())
	delete(f.Versions, req.GetName())
	return nil
}

// ListSecrets lists secrets under the parent in name order
func (f *FakeGCPSecretManagerClient) ListSecrets(ctx context.Context, req *secretmanagerpb.ListSecretsRequest) remote.GCPSecretIterator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ListError != nil {
		return &secretIterator{err: f.ListError}
	}

	var names []string
	for name := range f.Secrets {
		if strings.HasPrefix(name, req.GetParent()+"/secrets/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	it := &secretIterator{}
	for _, name := range names {
		it.items = append(it.items, f.Secrets[name])
	}
	return it
}

// ListSecretVersions lists a secret's versions, oldest first
func (f *FakeGCPSecretManagerClient) ListSecretVersions(ctx context.Context, req *secretmanagerpb.ListSecretVersionsRequest) remote.GCPSecretVersionIterator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Errors[req.GetParent()]; err != nil {
		return &versionIterator{err: err}
	}
	if _, ok := f.Secrets[req.GetParent()]; !ok {
		return &versionIterator{err: notFound(req.GetParent())}
	}
	return &versionIterator{items: append([]*secretmanagerpb.SecretVersion(nil), f.Versions[req.GetParent()]...)}
}

type secretIterator struct {
	items []*secretmanagerpb.Secret
	err   error
}

func (it *secretIterator) Next() (*secretmanagerpb.Secret, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.items) == 0 {
		return nil, iterator.Done
	}
	s := it.items[0]
	it.items = it.items[1:]
	return s, nil
}

type versionIterator struct {
	items []*secretmanagerpb.SecretVersion
	err   error
}

func (it *versionIterator) Next() (*secretmanagerpb.SecretVersion, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.items) == 0 {
		return nil, iterator.Done
	}
	v := it.items[0]
	it.items = it.items[1:]
	return v, nil
}
