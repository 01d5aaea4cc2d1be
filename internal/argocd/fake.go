package argocd

import (
	"context"
	"sync"
)

// FakeClient is a scripted Client for tests. Application state is produced by
// AppFunc, called with the zero-based index of each GetApplication call.
type FakeClient struct {
	UserInfoErr error
	AppFunc     func(call int) (Application, error)
	SyncFunc    func(call int, opts SyncOptions) error

	// OnSync runs after every sync request that SyncFunc accepted.
	OnSync func()

	mu        sync.Mutex
	getCalls  int
	syncCalls int
	authCalls int
}

var _ Client = (*FakeClient)(nil)

func (f *FakeClient) UserInfo(context.Context) (UserInfo, error) {
	f.mu.Lock()
	f.authCalls++
	f.mu.Unlock()
	if f.UserInfoErr != nil {
		return UserInfo{}, f.UserInfoErr
	}
	return UserInfo{LoggedIn: true, Username: "admin"}, nil
}

func (f *FakeClient) GetApplication(context.Context, string, string) (Application, error) {
	f.mu.Lock()
	n := f.getCalls
	f.getCalls++
	f.mu.Unlock()
	if f.AppFunc == nil {
		return Application{}, ErrNotFound
	}
	return f.AppFunc(n)
}

func (f *FakeClient) SyncApplication(_ context.Context, _, _ string, opts SyncOptions) error {
	f.mu.Lock()
	n := f.syncCalls
	f.syncCalls++
	f.mu.Unlock()
	if f.SyncFunc != nil {
		if err := f.SyncFunc(n, opts); err != nil {
			return err
		}
	}
	if f.OnSync != nil {
		f.OnSync()
	}
	return nil
}

// Calls returns the number of UserInfo, GetApplication and SyncApplication calls.
func (f *FakeClient) Calls() (auth, get, sync int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.getCalls, f.syncCalls
}
