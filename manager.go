package sharepoint

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/contentops/sharepoint-go/config"
	"github.com/contentops/sharepoint-go/rest"
)

// Manager is a stateful facade over an authenticated ClientContext. It
// caches list handles by title and folder handles by server-relative path,
// resolving each on first access; handles are never refreshed
// automatically, so an object renamed or deleted out-of-band leaves a stale
// handle until Invalidate clears it. Every operation method is a one-line
// delegation to the corresponding package function.
//
// Manager is safe for concurrent use; the underlying operations still run
// one HTTP round trip at a time each.
type Manager struct {
	cc     *ClientContext
	logger *slog.Logger

	mu      sync.Mutex
	lists   map[string]*List
	folders map[string]*Folder
	group   singleflight.Group

	// resolveMu serializes staged work on the shared ClientContext: its
	// load/execute queue is single-threaded, so only one resolution or
	// tree deletion may stage and flush at a time.
	resolveMu sync.Mutex
}

// NewManager authenticates against the site and returns a Manager. Invalid
// credentials fail here, before any handle is handed out.
func NewManager(ctx context.Context, siteURL string, auth rest.Authorizer, opts ...Option) (*Manager, error) {
	cc, err := Connect(ctx, siteURL, auth, opts...)
	if err != nil {
		return nil, err
	}

	return NewManagerWithContext(cc), nil
}

// NewManagerFromProfile builds the Authorizer described by a config profile
// and authenticates against its site.
func NewManagerFromProfile(ctx context.Context, profile config.Profile, opts ...Option) (*Manager, error) {
	var auth rest.Authorizer

	switch profile.Auth {
	case config.AuthAddin:
		auth = &rest.AddinAuth{
			ClientID:     profile.ClientID,
			ClientSecret: profile.ClientSecret,
			Realm:        profile.Realm,
		}
	case config.AuthUser, "":
		auth = &rest.UserAuth{
			Username: profile.Username,
			Password: profile.Password,
		}
	default:
		return nil, fmt.Errorf("sharepoint: unknown auth mode %q", profile.Auth)
	}

	return NewManager(ctx, profile.SiteURL, auth, opts...)
}

// NewManagerWithContext wraps an already-connected ClientContext.
func NewManagerWithContext(cc *ClientContext) *Manager {
	return &Manager{
		cc:      cc,
		logger:  cc.logger,
		lists:   map[string]*List{},
		folders: map[string]*Folder{},
	}
}

// Context returns the underlying ClientContext.
func (m *Manager) Context() *ClientContext {
	return m.cc
}

// List returns the cached handle for the list with the given title,
// resolving and materializing it on first access. Concurrent first accesses
// for the same title share one resolution.
func (m *Manager) List(ctx context.Context, title string) (*List, error) {
	m.mu.Lock()
	if l, ok := m.lists[title]; ok {
		m.mu.Unlock()
		return l, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("list:"+title, func() (any, error) {
		l := GetList(m.cc, title)

		m.resolveMu.Lock()
		m.cc.Load(l)
		execErr := m.cc.Execute(ctx)
		m.resolveMu.Unlock()

		if execErr != nil {
			return nil, execErr
		}

		m.mu.Lock()
		m.lists[title] = l
		m.mu.Unlock()

		m.logger.Debug("cached list handle", slog.String("title", title))

		return l, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*List), nil
}

// Folder returns the cached handle for the folder at the given
// server-relative path, resolving and materializing it on first access.
func (m *Manager) Folder(ctx context.Context, serverRelativePath string) (*Folder, error) {
	m.mu.Lock()
	if f, ok := m.folders[serverRelativePath]; ok {
		m.mu.Unlock()
		return f, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("folder:"+serverRelativePath, func() (any, error) {
		f := GetFolder(m.cc, serverRelativePath)

		m.resolveMu.Lock()
		m.cc.Load(f)
		execErr := m.cc.Execute(ctx)
		m.resolveMu.Unlock()

		if execErr != nil {
			return nil, execErr
		}

		m.mu.Lock()
		m.folders[serverRelativePath] = f
		m.mu.Unlock()

		m.logger.Debug("cached folder handle", slog.String("path", serverRelativePath))

		return f, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Folder), nil
}

// Invalidate drops the cached handle for the given list title or folder
// path, so the next access resolves it again. Required after renaming or
// deleting the remote object out-of-band.
func (m *Manager) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lists, name)
	delete(m.folders, name)
}

// InvalidateAll drops every cached handle.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists = map[string]*List{}
	m.folders = map[string]*Folder{}
}

// UserEmail returns the principal name of the site user with the given ID;
// the second return value is false when no user matches.
func (m *Manager) UserEmail(ctx context.Context, userID int) (string, bool, error) {
	return UserEmail(ctx, m.cc, userID)
}

// ListItems retrieves the items of the named list, optionally filtered.
func (m *Manager) ListItems(ctx context.Context, listTitle string, filters ...Information) ([]*Item, error) {
	list, err := m.List(ctx, listTitle)
	if err != nil {
		return nil, err
	}

	return ListItems(ctx, m.cc, list, filters...)
}

// FolderChildren retrieves the direct subfolders of the named folder.
func (m *Manager) FolderChildren(ctx context.Context, folderPath string) ([]*Folder, error) {
	folder, err := m.Folder(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	return ListFolders(ctx, m.cc, folder)
}

// FileChildren retrieves the direct file children of the named folder.
func (m *Manager) FileChildren(ctx context.Context, folderPath string) ([]*File, error) {
	folder, err := m.Folder(ctx, folderPath)
	if err != nil {
		return nil, err
	}

	return ListFiles(ctx, m.cc, folder)
}

// UpdateItem applies the updates to the identified item of the named list.
func (m *Manager) UpdateItem(ctx context.Context, listTitle string, itemID int, updates []Information) error {
	list, err := m.List(ctx, listTitle)
	if err != nil {
		return err
	}

	return UpdateItem(ctx, m.cc, list, itemID, updates)
}

// AddItem creates an item in the named list, optionally attaching a file.
func (m *Manager) AddItem(
	ctx context.Context, listTitle string, fields map[string]any, attachmentPath string,
) (*Item, error) {
	list, err := m.List(ctx, listTitle)
	if err != nil {
		return nil, err
	}

	return AddItem(ctx, m.cc, list, fields, attachmentPath)
}

// Attachments retrieves the attachment files bound to an item.
func (m *Manager) Attachments(ctx context.Context, item *Item) ([]Attachment, error) {
	return Attachments(ctx, m.cc, item)
}

// CreateFolder adds a folder at parentPath/name.
func (m *Manager) CreateFolder(ctx context.Context, parentPath, name string) error {
	return CreateFolder(ctx, m.cc, parentPath, name)
}

// FolderExists reports whether parentPath has a direct subfolder with
// exactly the given name.
func (m *Manager) FolderExists(ctx context.Context, parentPath, name string) (bool, error) {
	return FolderExists(ctx, m.cc, parentPath, name)
}

// UploadFile uploads a file into the folder at folderPath.
func (m *Manager) UploadFile(ctx context.Context, folderPath string, source any, name string) error {
	return UploadFile(ctx, m.cc, folderPath, source, name)
}

// CreateList creates a generic list with the given title.
func (m *Manager) CreateList(ctx context.Context, title string) error {
	return CreateList(ctx, m.cc, title)
}

// DeleteItem deletes a single item.
func (m *Manager) DeleteItem(ctx context.Context, item *Item) error {
	return DeleteItem(ctx, m.cc, item)
}

// DeleteFolderTree recursively deletes parentPath/name and drops any cached
// folder handles underneath it.
func (m *Manager) DeleteFolderTree(ctx context.Context, parentPath, name string) error {
	full := joinPath(parentPath, name)

	m.resolveMu.Lock()
	err := DeleteFolderTree(ctx, m.cc, full)
	m.resolveMu.Unlock()

	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for path := range m.folders {
		if path == full || strings.HasPrefix(path, full+"/") {
			delete(m.folders, path)
		}
	}

	return nil
}
