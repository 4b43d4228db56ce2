package services

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/lifecycle"
	"github.com/dmitrijs2005/expiryx/internal/netx"
	"github.com/dmitrijs2005/expiryx/internal/permission"
	"github.com/dmitrijs2005/expiryx/internal/proto"
)

// ResourceLinks issues presigned object-storage links. The ledger node
// implements it.
type ResourceLinks interface {
	UploadURL(ctx context.Context, signed, name string) (proto.UploadTicket, error)
	DownloadURL(ctx context.Context, signed string) (string, error)
}

// AccessSigner proves the caller's address to the link issuer.
type AccessSigner interface {
	AccessToken(permissionID string) (string, error)
}

// ResourceService moves shared artifacts in and out of object storage.
//
// Contract:
//   - Upload stores a local file and returns the resource to attach to a
//     grant.
//   - DownloadURL returns a link to the resource of a permission, only
//     while the caller may download it.
type ResourceService interface {
	Upload(ctx context.Context, path string) (permission.Resource, error)
	DownloadURL(ctx context.Context, id string) (string, error)
}

type resourceService struct {
	links   ResourceLinks
	signer  AccessSigner
	machine *lifecycle.Machine
	http    *http.Client
}

// NewResourceService returns a service that fails with ledger.ErrUnsupported
// when links is nil, as with the simulated ledger.
func NewResourceService(links ResourceLinks, signer AccessSigner, m *lifecycle.Machine, hc *http.Client) ResourceService {
	return &resourceService{links: links, signer: signer, machine: m, http: hc}
}

func (s *resourceService) Upload(ctx context.Context, path string) (permission.Resource, error) {
	if s.links == nil {
		return permission.Resource{}, ledger.ErrUnsupported
	}

	f, err := os.Open(path)
	if err != nil {
		return permission.Resource{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return permission.Resource{}, fmt.Errorf("stat file: %w", err)
	}
	name := filepath.Base(path)
	mediaType := mime.TypeByExtension(filepath.Ext(name))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	signed, err := s.signer.AccessToken("")
	if err != nil {
		return permission.Resource{}, err
	}
	ticket, err := s.links.UploadURL(ctx, signed, name)
	if err != nil {
		return permission.Resource{}, fmt.Errorf("upload link: %w", err)
	}
	if err := netx.UploadToPresignedURL(ctx, s.http, ticket.URL, mediaType, f, info.Size()); err != nil {
		return permission.Resource{}, err
	}

	return permission.Resource{
		Name:       name,
		Size:       info.Size(),
		MediaType:  mediaType,
		ContentRef: ticket.ContentRef,
	}, nil
}

func (s *resourceService) DownloadURL(ctx context.Context, id string) (string, error) {
	if s.links == nil {
		return "", ledger.ErrUnsupported
	}

	e, err := s.machine.Record(ctx, id)
	if err != nil {
		return "", err
	}
	r := e.Record
	if r.Resource == nil {
		return "", fmt.Errorf("permission %s has no attached resource", id)
	}
	if err := permission.ValidateDownload(r, s.machine.Principal(), s.machine.Now()); err != nil {
		return "", err
	}

	signed, err := s.signer.AccessToken(id)
	if err != nil {
		return "", err
	}
	return s.links.DownloadURL(ctx, signed)
}
