package clouddrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// FolderMimeType is the Drive API's reserved mime type for folders, used
// both to create folders and to client-side-filter shortcut targets.
const FolderMimeType = "application/vnd.google-apps.folder"

// ItemFields is the field mask requested for folder/item listings.
const ItemFields = "id,name,size,modifiedTime,md5Checksum,parents,mimeType,trashed,shortcutDetails"

// adapter realizes Service on top of a real *drive.Service. Constructed by
// the CLI layer once OAuth2 token acquisition has produced an
// authenticated *http.Client.
type adapter struct {
	srv *drive.Service
}

// NewAdapter wraps an already-authenticated Drive API client.
func NewAdapter(srv *drive.Service) Service {
	return &adapter{srv: srv}
}

func (a *adapter) ListFolders(ctx context.Context, query, fields, pageToken string) (*drive.FileList, error) {
	call := a.srv.Files.List().Context(ctx).Q(query).Fields(googleapi.Field(fields))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: list folders: %w", err)
	}

	return list, nil
}

func (a *adapter) ListChildren(ctx context.Context, parentID, fields, pageToken string) (*drive.FileList, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", parentID)

	call := a.srv.Files.List().Context(ctx).Q(query).Fields(googleapi.Field(fields))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: list children of %s: %w", parentID, err)
	}

	return list, nil
}

func (a *adapter) GetFile(ctx context.Context, id string) (*drive.File, error) {
	file, err := a.srv.Files.Get(id).Context(ctx).Fields(googleapi.Field(ItemFields)).Do()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: get file %s: %w", id, err)
	}

	return file, nil
}

func (a *adapter) ListChanges(ctx context.Context, pageToken, fields string, includeRemoved bool) (*drive.ChangeList, error) {
	list, err := a.srv.Changes.List(pageToken).
		Context(ctx).
		Fields(googleapi.Field(fields)).
		IncludeRemoved(includeRemoved).
		Do()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: list changes: %w", err)
	}

	return list, nil
}

func (a *adapter) GetStartPageToken(ctx context.Context) (string, error) {
	tok, err := a.srv.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("clouddrive: get start page token: %w", err)
	}

	return tok.StartPageToken, nil
}

func (a *adapter) CreateFile(ctx context.Context, parentID, name string, isFolder bool, content io.Reader) (*drive.File, error) {
	file := &drive.File{Name: name, Parents: []string{parentID}}
	if isFolder {
		file.MimeType = FolderMimeType
	}

	call := a.srv.Files.Create(file).Context(ctx).Fields(googleapi.Field(ItemFields))
	if content != nil {
		call = call.Media(content)
	}

	created, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: create %q under %s: %w", name, parentID, err)
	}

	return created, nil
}

func (a *adapter) UpdateFile(ctx context.Context, id, newParentID, newName string, content io.Reader) (*drive.File, error) {
	file := &drive.File{}
	if newName != "" {
		file.Name = newName
	}

	call := a.srv.Files.Update(id, file).Context(ctx).Fields(googleapi.Field(ItemFields))

	if newParentID != "" {
		// Reparenting is additive in the API: without removeParents the item
		// ends up in both folders. Fetch the current parents to detach from.
		current, err := a.srv.Files.Get(id).Context(ctx).Fields("parents").Do()
		if err != nil {
			return nil, fmt.Errorf("clouddrive: resolving parents of %s: %w", id, err)
		}

		call = call.AddParents(newParentID)
		if len(current.Parents) > 0 {
			call = call.RemoveParents(strings.Join(current.Parents, ","))
		}
	}

	if content != nil {
		call = call.Media(content)
	}

	updated, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("clouddrive: update %s: %w", id, err)
	}

	return updated, nil
}

func (a *adapter) DeleteFile(ctx context.Context, id string) error {
	if err := a.srv.Files.Delete(id).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return nil
		}

		return fmt.Errorf("clouddrive: delete %s: %w", id, err)
	}

	return nil
}

func (a *adapter) Download(ctx context.Context, id string, w io.Writer) error {
	resp, err := a.srv.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return fmt.Errorf("clouddrive: download %s: %w", id, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("clouddrive: streaming %s: %w", id, err)
	}

	return nil
}

// isNotFound reports whether err wraps a Drive API 404.
func isNotFound(err error) bool {
	var apiErr *googleapi.Error

	return errors.As(err, &apiErr) && apiErr.Code == 404
}
