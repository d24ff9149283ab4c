package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-kyc-access/internal/config"
	"github.com/go-kyc-access/internal/domain"
	"github.com/go-kyc-access/internal/pkg/id"
	"github.com/go-kyc-access/internal/pkg/metrics"
	"github.com/go-kyc-access/internal/pkg/validate"
	"github.com/google/uuid"
)

// sniffLen is how much of an upload is inspected before anything is stored.
const sniffLen = 3072

const maxFilenameRunes = 255

type ReadGrantRequest struct {
	Path       string `json:"path" validate:"required"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type WriteGrantRequest struct {
	DocumentType domain.DocumentType `json:"document_type" validate:"required,documenttype"`
	ContentType  string              `json:"content_type" validate:"required"`
	Size         int64               `json:"size" validate:"required,gt=0"`
}

type UploadInput struct {
	Reader       io.Reader
	Filename     string // client-supplied; kept as metadata only, never in the object path
	ContentType  string
	Size         int64
	DocumentType domain.DocumentType
}

type Issuer interface {
	IssueReadGrant(ctx context.Context, p domain.Principal, req ReadGrantRequest, required domain.Role) (*domain.SignedAccessGrant, error)
	IssueWriteGrant(ctx context.Context, p domain.Principal, req WriteGrantRequest) (*domain.UploadTarget, error)
	Upload(ctx context.Context, p domain.Principal, in UploadInput) (*domain.Document, error)
	ListDocuments(ctx context.Context, p domain.Principal, ownerID string) ([]domain.Document, error)
}

type objectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key, contentType string, size int64, ttl time.Duration) (string, map[string]string, error)
	Delete(ctx context.Context, key string) error
}

type documentStore interface {
	Put(ctx context.Context, d *domain.Document) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Document, error)
}

type roleGate interface {
	AuthorizeRoleGatedRead(ctx context.Context, p domain.Principal, required ...domain.Role) error
}

type issuer struct {
	objects objectStore
	docs    documentStore
	gate    roleGate
	cfg     config.DocumentConfig
	now     func() time.Time
}

func NewIssuer(objects objectStore, docs documentStore, gate roleGate, cfg config.DocumentConfig) Issuer {
	return &issuer{objects: objects, docs: docs, gate: gate, cfg: cfg, now: time.Now}
}

func (s *issuer) IssueReadGrant(ctx context.Context, p domain.Principal, req ReadGrantRequest, required domain.Role) (*domain.SignedAccessGrant, error) {
	if err := s.gate.AuthorizeRoleGatedRead(ctx, p, required); err != nil {
		metrics.Grants.WithLabelValues("read", "denied").Inc()
		return nil, err
	}
	ttl, err := s.readTTL(req.TTLSeconds)
	if err != nil {
		metrics.Grants.WithLabelValues("read", "rejected").Inc()
		return nil, err
	}
	key, err := s.cleanPath(req.Path)
	if err != nil {
		metrics.Grants.WithLabelValues("read", "rejected").Inc()
		return nil, err
	}

	now := s.now().UTC()
	url, err := s.objects.PresignGet(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	grant := &domain.SignedAccessGrant{
		GrantID:    uuid.NewString(),
		ObjectPath: key,
		URL:        url,
		ExpiresAt:  now.Add(ttl),
	}
	metrics.Grants.WithLabelValues("read", "issued").Inc()
	slog.InfoContext(ctx, "read grant issued", "user_id", p.UserID, "grant_id", grant.GrantID, "path", key, "ttl", ttl)
	return grant, nil
}

// readTTL maps 0 to the default and rejects anything outside (0, max].
func (s *issuer) readTTL(seconds int) (time.Duration, error) {
	if seconds == 0 {
		return s.cfg.ReadDefaultTTL, nil
	}
	ttl := time.Duration(seconds) * time.Second
	if seconds < 0 || ttl > s.cfg.ReadMaxTTL {
		return 0, fmt.Errorf("ttl_seconds must be between 1 and %d: %w", int(s.cfg.ReadMaxTTL.Seconds()), domain.ErrBadRequest)
	}
	return ttl, nil
}

// cleanPath accepts only canonical object keys under the KYC prefix.
func (s *issuer) cleanPath(raw string) (string, error) {
	bad := fmt.Errorf("path must be a document under %s/: %w", s.cfg.Prefix, domain.ErrBadRequest)
	if raw == "" || strings.HasPrefix(raw, "/") || strings.HasSuffix(raw, "/") || strings.ContainsAny(raw, "\\\x00") {
		return "", bad
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." || seg == "." {
			return "", bad
		}
	}
	if path.Clean(raw) != raw || !strings.HasPrefix(raw, s.cfg.Prefix+"/") {
		return "", bad
	}
	return raw, nil
}

func (s *issuer) IssueWriteGrant(ctx context.Context, p domain.Principal, req WriteGrantRequest) (*domain.UploadTarget, error) {
	if err := validate.Struct(req); err != nil {
		metrics.Grants.WithLabelValues("write", "rejected").Inc()
		return nil, err
	}
	if err := s.checkPolicy(req.DocumentType, req.ContentType, req.Size); err != nil {
		metrics.Grants.WithLabelValues("write", "rejected").Inc()
		return nil, err
	}
	now := s.now().UTC()
	key := s.objectPath(p.UserID, req.DocumentType, req.ContentType, now)
	url, headers, err := s.objects.PresignPut(ctx, key, req.ContentType, req.Size, s.cfg.WriteTTL)
	if err != nil {
		return nil, err
	}
	metrics.Grants.WithLabelValues("write", "issued").Inc()
	slog.InfoContext(ctx, "write grant issued", "user_id", p.UserID, "path", key, "document_type", req.DocumentType)
	return &domain.UploadTarget{
		ObjectPath: key,
		URL:        url,
		Method:     http.MethodPut,
		Headers:    headers,
		MaxBytes:   req.Size,
		ExpiresAt:  now.Add(s.cfg.WriteTTL),
	}, nil
}

// checkPolicy applies the per-type allow-list and the size ceiling.
func (s *issuer) checkPolicy(docType domain.DocumentType, contentType string, size int64) error {
	policy, ok := domain.DocumentPolicies[docType]
	if !ok {
		return fmt.Errorf("unknown document_type %q: %w", docType, domain.ErrBadRequest)
	}
	if !policy.Allows(contentType) {
		return fmt.Errorf("content type %q not accepted for %s: %w", contentType, docType, domain.ErrBadRequest)
	}
	limit := policy.MaxBytes
	if s.cfg.MaxUploadBytes > 0 && s.cfg.MaxUploadBytes < limit {
		limit = s.cfg.MaxUploadBytes
	}
	if size <= 0 || size > limit {
		return fmt.Errorf("size must be between 1 and %d bytes: %w", limit, domain.ErrBadRequest)
	}
	return nil
}

func (s *issuer) objectPath(ownerID string, docType domain.DocumentType, contentType string, now time.Time) string {
	ext := ""
	if mt := mimetype.Lookup(contentType); mt != nil {
		ext = mt.Extension()
	}
	return fmt.Sprintf("%s/%s/%s/%s-%s%s", s.cfg.Prefix, ownerID, docType, now.Format("20060102T150405Z"), id.NewAt(now), ext)
}

// Upload checks the declared type and size, then sniffs the leading bytes,
// and only then streams the body to storage.
func (s *issuer) Upload(ctx context.Context, p domain.Principal, in UploadInput) (*domain.Document, error) {
	if err := s.checkPolicy(in.DocumentType, in.ContentType, in.Size); err != nil {
		metrics.Grants.WithLabelValues("upload", "rejected").Inc()
		return nil, err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Reader, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	if int64(n) > in.Size {
		metrics.Grants.WithLabelValues("upload", "rejected").Inc()
		return nil, fmt.Errorf("body larger than declared size: %w", domain.ErrBadRequest)
	}
	detected := mimetype.Detect(head)
	if !detected.Is(in.ContentType) {
		metrics.Grants.WithLabelValues("upload", "rejected").Inc()
		slog.InfoContext(ctx, "upload content mismatch", "user_id", p.UserID, "declared", in.ContentType, "detected", detected.String())
		return nil, fmt.Errorf("file content does not match %s: %w", in.ContentType, domain.ErrBadRequest)
	}

	now := s.now().UTC()
	key := s.objectPath(p.UserID, in.DocumentType, in.ContentType, now)
	hasher := sha256.New()
	body := io.TeeReader(io.LimitReader(io.MultiReader(bytes.NewReader(head), in.Reader), in.Size), hasher)
	if err := s.objects.Upload(ctx, key, body, in.Size, in.ContentType); err != nil {
		return nil, err
	}

	doc := &domain.Document{
		DocumentID:   id.NewAt(now),
		OwnerID:      p.UserID,
		DocumentType: in.DocumentType,
		ObjectPath:   key,
		ContentType:  in.ContentType,
		Filename:     cleanFilename(in.Filename),
		Size:         in.Size,
		Hash:         hex.EncodeToString(hasher.Sum(nil)),
		CreatedAt:    now,
	}
	if err := s.docs.Put(ctx, doc); err != nil {
		if derr := s.objects.Delete(ctx, key); derr != nil {
			slog.ErrorContext(ctx, "orphaned upload", "user_id", p.UserID, "path", key, "err", derr)
		}
		return nil, err
	}
	metrics.Grants.WithLabelValues("upload", "stored").Inc()
	slog.InfoContext(ctx, "document uploaded", "user_id", p.UserID, "document_id", doc.DocumentID, "document_type", doc.DocumentType)
	return doc, nil
}

// cleanFilename keeps the last path element of a client filename, without
// control characters, capped at maxFilenameRunes.
func cleanFilename(raw string) string {
	raw = strings.ReplaceAll(raw, "\\", "/")
	name := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, path.Base(raw))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	if r := []rune(name); len(r) > maxFilenameRunes {
		name = string(r[:maxFilenameRunes])
	}
	return strings.TrimSpace(name)
}

// ListDocuments returns ownerID's documents. Other owners need the admin or
// compliance role.
func (s *issuer) ListDocuments(ctx context.Context, p domain.Principal, ownerID string) ([]domain.Document, error) {
	if p.UserID == "" {
		return nil, domain.ErrUnauthorized
	}
	if ownerID == "" {
		ownerID = p.UserID
	}
	if ownerID != p.UserID {
		if err := s.gate.AuthorizeRoleGatedRead(ctx, p, domain.RoleAdmin, domain.RoleCompliance); err != nil {
			return nil, err
		}
	}
	return s.docs.ListByOwner(ctx, ownerID)
}
