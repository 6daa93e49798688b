// Package scaleway is a small hand-written client for the Scaleway Instance
// API endpoints this engine needs: importing an uploaded disk image as a
// snapshot, turning that snapshot into a bootable image, and polling both
// for completion. It talks directly to the documented REST endpoints rather
// than through a generated SDK.
package scaleway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	vmerrors "github.com/scaleway/vmware2scw/pkg/errors"
)

const defaultAPIURL = "https://api.scaleway.com/instance/v1"

// Config holds the credentials and target zone/project for the API client.
type Config struct {
	APIURL         string
	SecretKey      string
	ProjectID      string
	Zone           string
	OrganizationID string
}

// Client is a thin REST client for the Scaleway Instance API's
// snapshot/image import surface.
type Client struct {
	baseURL   string
	secretKey string
	projectID string
	zone      string
	http      *http.Client
	log       *zap.SugaredLogger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.SecretKey == "" {
		return nil, vmerrors.NewConfigurationError("scaleway: secret key is required")
	}
	if cfg.ProjectID == "" {
		return nil, vmerrors.NewConfigurationError("scaleway: project id is required")
	}
	if cfg.Zone == "" {
		return nil, vmerrors.NewConfigurationError("scaleway: zone is required")
	}
	base := cfg.APIURL
	if base == "" {
		base = defaultAPIURL
	}
	return &Client{
		baseURL:   base,
		secretKey: cfg.SecretKey,
		projectID: cfg.ProjectID,
		zone:      cfg.Zone,
		http:      &http.Client{Timeout: 60 * time.Second},
		log:       zap.S().Named("scaleway"),
	}, nil
}

// SnapshotState mirrors the Instance API's snapshot.state field.
type SnapshotState string

const (
	SnapshotStateAvailable   SnapshotState = "available"
	SnapshotStateSnapshoting SnapshotState = "snapshotting"
	SnapshotStateError       SnapshotState = "error"
	SnapshotStateImporting   SnapshotState = "importing"
)

// Snapshot is the subset of the API's snapshot resource this client cares
// about.
type Snapshot struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	State SnapshotState `json:"state"`
}

type importSnapshotRequest struct {
	Bucket    string `json:"bucket"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	VolumeType string `json:"volume_type"`
	ProjectID string `json:"project_id"`
}

type importSnapshotResponse struct {
	Snapshot Snapshot `json:"snapshot"`
}

// ImportSnapshot starts importing an object-storage object (previously
// uploaded by pkg/objectstore) as a new block snapshot, returning
// immediately with the snapshot in "importing" state; poll with
// WaitSnapshotAvailable for completion.
func (c *Client) ImportSnapshot(ctx context.Context, name, bucket, key string) (Snapshot, error) {
	req := importSnapshotRequest{
		Bucket:     bucket,
		Key:        key,
		Name:       name,
		VolumeType: "b_ssd",
		ProjectID:  c.projectID,
	}
	var resp importSnapshotResponse
	if err := c.doJSON(ctx, http.MethodPost, "/snapshots", req, &resp); err != nil {
		return Snapshot{}, err
	}
	return resp.Snapshot, nil
}

func (c *Client) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	var resp importSnapshotResponse
	if err := c.doJSON(ctx, http.MethodGet, "/snapshots/"+id, nil, &resp); err != nil {
		return Snapshot{}, err
	}
	return resp.Snapshot, nil
}

// WaitSnapshotAvailable polls the snapshot until it reaches the available
// state, retrying transient failures with exponential backoff.
func (c *Client) WaitSnapshotAvailable(ctx context.Context, id string) (Snapshot, error) {
	op := func() (Snapshot, error) {
		snap, err := c.GetSnapshot(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}
		switch snap.State {
		case SnapshotStateAvailable:
			return snap, nil
		case SnapshotStateError:
			return Snapshot{}, backoff.Permanent(vmerrors.NewTransientError(nil, "snapshot %s entered error state", id))
		default:
			return Snapshot{}, vmerrors.NewTransientError(nil, "snapshot %s still %s", id, snap.State)
		}
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Minute),
	)
}

// Image is the subset of the API's image resource this client cares about.
type Image struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type createImageRequest struct {
	Name       string `json:"name"`
	RootVolume string `json:"root_volume"`
	Arch       string `json:"arch"`
	ProjectID  string `json:"project_id"`
}

type createImageResponse struct {
	Image Image `json:"image"`
}

// CreateImage turns an available snapshot into a bootable image.
func (c *Client) CreateImage(ctx context.Context, name, snapshotID string) (Image, error) {
	req := createImageRequest{
		Name:       name,
		RootVolume: snapshotID,
		Arch:       "x86_64",
		ProjectID:  c.projectID,
	}
	var resp createImageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/images", req, &resp); err != nil {
		return Image{}, err
	}
	return resp.Image, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return vmerrors.NewIntegrityError("marshaling scaleway request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	url := fmt.Sprintf("%s/zones/%s%s", c.baseURL, c.zone, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return vmerrors.NewConfigurationError("building scaleway request: %v", err)
	}
	req.Header.Set("X-Auth-Token", c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debugw("scaleway request", "method", method, "path", path)

	resp, err := c.http.Do(req)
	if err != nil {
		return vmerrors.NewTransientError(err, "calling scaleway %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return vmerrors.NewTransientError(nil, "scaleway %s %s returned %s", method, path, resp.Status)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return vmerrors.NewPreconditionError("scaleway %s %s returned %s: %s", method, path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return vmerrors.NewIntegrityError("decoding scaleway response from %s %s: %v", method, path, err)
	}
	return nil
}
