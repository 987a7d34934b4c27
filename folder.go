package sharepoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/contentops/sharepoint-go/rest"
)

// Folder is the handle for a folder, addressed by server-relative path.
// A freshly constructed handle is unmaterialized; stage it with
// ClientContext.Load and flush with Execute to populate its properties.
type Folder struct {
	Name              string
	ServerRelativeURL string
	ItemCount         int

	loaded bool
}

// folderResponse mirrors the folder entity JSON payload.
type folderResponse struct {
	Name              string `json:"Name"`              //nolint:tagliatelle // SharePoint API key
	ServerRelativeURL string `json:"ServerRelativeUrl"` //nolint:tagliatelle // SharePoint API key
	ItemCount         int    `json:"ItemCount"`         //nolint:tagliatelle // SharePoint API key
}

func (fr *folderResponse) toFolder() *Folder {
	return &Folder{
		Name:              fr.Name,
		ServerRelativeURL: fr.ServerRelativeURL,
		ItemCount:         fr.ItemCount,
		loaded:            true,
	}
}

// GetFolder returns a lazy handle for the folder at the given
// server-relative path. No network traffic happens until the handle is
// loaded or used.
func GetFolder(_ *ClientContext, serverRelativePath string) *Folder {
	return &Folder{ServerRelativeURL: serverRelativePath}
}

func (f *Folder) apiPath() string {
	return fmt.Sprintf("/_api/web/GetFolderByServerRelativeUrl('%s')", quoteArg(f.ServerRelativeURL))
}

func (f *Folder) refresh(ctx context.Context, cc *ClientContext) error {
	var resp folderResponse
	if err := cc.getJSON(ctx, f.apiPath(), &resp); err != nil {
		return err
	}

	f.Name = resp.Name
	f.ServerRelativeURL = resp.ServerRelativeURL
	f.ItemCount = resp.ItemCount
	f.loaded = true

	return nil
}

func (f *Folder) describe() string {
	return fmt.Sprintf("folder %q", f.ServerRelativeURL)
}

func (f *Folder) deletePath() string {
	return f.apiPath()
}

// Loaded reports whether the handle has been materialized by an Execute.
func (f *Folder) Loaded() bool {
	return f.loaded
}

// File describes a file inside a folder.
type File struct {
	Name              string
	ServerRelativeURL string
	Length            int64
}

// fileResponse mirrors the file entity JSON payload. Length is declared
// Edm.Int64, which some service versions emit as a JSON string.
type fileResponse struct {
	Name              string      `json:"Name"`              //nolint:tagliatelle // SharePoint API key
	ServerRelativeURL string      `json:"ServerRelativeUrl"` //nolint:tagliatelle // SharePoint API key
	Length            json.Number `json:"Length"`            //nolint:tagliatelle // SharePoint API key
}

func (fr *fileResponse) toFile() *File {
	length, _ := fr.Length.Int64()

	return &File{
		Name:              fr.Name,
		ServerRelativeURL: fr.ServerRelativeURL,
		Length:            length,
	}
}

func (f *File) apiPath() string {
	return fmt.Sprintf("/_api/web/GetFileByServerRelativeUrl('%s')", quoteArg(f.ServerRelativeURL))
}

func (f *File) describe() string {
	return fmt.Sprintf("file %q", f.ServerRelativeURL)
}

func (f *File) deletePath() string {
	return f.apiPath()
}

// ListFolders retrieves the direct subfolders of the folder, no filtering.
func ListFolders(ctx context.Context, cc *ClientContext, folder *Folder) ([]*Folder, error) {
	raws, err := cc.getCollection(ctx, folder.apiPath()+"/Folders")
	if err != nil {
		return nil, err
	}

	folders := make([]*Folder, 0, len(raws))

	for _, raw := range raws {
		var fr folderResponse
		if err := json.Unmarshal(raw, &fr); err != nil {
			return nil, fmt.Errorf("sharepoint: decoding folder: %w", err)
		}

		folders = append(folders, fr.toFolder())
	}

	return folders, nil
}

// ListFiles retrieves the direct file children of the folder, no filtering.
func ListFiles(ctx context.Context, cc *ClientContext, folder *Folder) ([]*File, error) {
	raws, err := cc.getCollection(ctx, folder.apiPath()+"/Files")
	if err != nil {
		return nil, err
	}

	files := make([]*File, 0, len(raws))

	for _, raw := range raws {
		var fr fileResponse
		if err := json.Unmarshal(raw, &fr); err != nil {
			return nil, fmt.Errorf("sharepoint: decoding file: %w", err)
		}

		files = append(files, fr.toFile())
	}

	return files, nil
}

// createFolderRequest mirrors the folder creation JSON payload.
type createFolderRequest struct {
	ServerRelativeURL string `json:"ServerRelativeUrl"` //nolint:tagliatelle // SharePoint API key
}

// CreateFolder adds a folder at parentPath/name. There is no check for an
// existing folder of the same name; conflicts follow remote semantics.
func CreateFolder(ctx context.Context, cc *ClientContext, parentPath, name string) error {
	full := joinPath(parentPath, name)

	cc.logger.Info("creating folder", slog.String("path", full))

	body, err := json.Marshal(createFolderRequest{ServerRelativeURL: full})
	if err != nil {
		return fmt.Errorf("sharepoint: marshaling create folder request: %w", err)
	}

	resp, err := cc.rest.Do(ctx, http.MethodPost, "/_api/web/folders", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, copyErr := io.Copy(io.Discard, resp.Body); copyErr != nil {
		return fmt.Errorf("sharepoint: draining create folder response: %w", copyErr)
	}

	return nil
}

// FolderExists lists the direct subfolders of parentPath and reports
// whether name is an exact, case-sensitive match against one of them.
func FolderExists(ctx context.Context, cc *ClientContext, parentPath, name string) (bool, error) {
	folders, err := ListFolders(ctx, cc, GetFolder(cc, parentPath))
	if err != nil {
		return false, err
	}

	for _, f := range folders {
		if f.Name == name {
			return true, nil
		}
	}

	return false, nil
}

// DeleteFolderTree deletes the folder at folderPath and everything beneath
// it: the folder's files are staged for deletion and flushed in one
// Execute, each subfolder is recursed into depth-first, and the emptied
// folder itself is deleted last. The root folder must exist; a missing root
// surfaces as rest.ErrNotFound. Descendants that are already gone are
// treated as deleted, so re-running over a partially deleted tree succeeds.
func DeleteFolderTree(ctx context.Context, cc *ClientContext, folderPath string) error {
	folder := GetFolder(cc, folderPath)

	cc.Load(folder)

	if err := cc.Execute(ctx); err != nil {
		return err
	}

	cc.logger.Info("deleting folder tree", slog.String("path", folderPath))

	return deleteFolderContents(ctx, cc, folder)
}

// deleteSubtree is the tolerant recursive arm of DeleteFolderTree: a
// subfolder listed by its parent may already be gone by the time the
// recursion reaches it.
func deleteSubtree(ctx context.Context, cc *ClientContext, folderPath string) error {
	folder := GetFolder(cc, folderPath)

	cc.Load(folder)

	if err := cc.Execute(ctx); err != nil {
		if errors.Is(err, rest.ErrNotFound) {
			cc.logger.Debug("subfolder already gone", slog.String("path", folderPath))
			return nil
		}

		return err
	}

	return deleteFolderContents(ctx, cc, folder)
}

// deleteFolderContents empties a materialized folder and removes it.
func deleteFolderContents(ctx context.Context, cc *ClientContext, folder *Folder) error {
	// Files first, so the folder is empty of files before descending.
	files, err := ListFiles(ctx, cc, folder)
	if err != nil {
		return err
	}

	for _, f := range files {
		cc.StageDelete(f)
	}

	if err := cc.Execute(ctx); err != nil {
		return err
	}

	subfolders, err := ListFolders(ctx, cc, folder)
	if err != nil {
		return err
	}

	for _, sub := range subfolders {
		if err := deleteSubtree(ctx, cc, sub.ServerRelativeURL); err != nil {
			return err
		}
	}

	// All children are gone; the folder itself can be removed.
	if err := cc.deleteResource(ctx, folder.apiPath()); err != nil && !errors.Is(err, rest.ErrNotFound) {
		return fmt.Errorf("deleting %s: %w", folder.describe(), err)
	}

	return nil
}

// joinPath joins a parent path and a child name with a single separator.
func joinPath(parent, name string) string {
	return strings.TrimRight(parent, "/") + "/" + name
}
