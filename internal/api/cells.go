package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/cellsync/internal/auth"
	"github.com/dl-alexandre/cellsync/internal/types"
	"github.com/dl-alexandre/cellsync/internal/utils"
)

type authInfo struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Type     string `json:"type"`
}

type sessionRequest struct {
	AuthInfo authInfo `json:"AuthInfo"`
}

type bulkRequest struct {
	NodePaths []string `json:"NodePaths"`
}

// CreateSession logs in with a login/password pair. It implements auth.Authenticator.
func (c *Client) CreateSession(ctx context.Context, endpoint, login, password string) (*types.Session, error) {
	reqCtx := NewRequestContext(ctx, "session.create")
	endpoint = auth.NormalizeEndpoint(endpoint)

	resp, err := ExecuteWithRetry(ctx, c, reqCtx, func() (*types.SessionResponse, error) {
		var out types.SessionResponse
		err := c.call(ctx, reqCtx, http.MethodPost, endpoint, utils.SessionPath, sessionRequest{
			AuthInfo: authInfo{Login: login, Password: password, Type: utils.AuthTypeLogin},
		}, &out, false)
		return &out, err
	})
	if err != nil {
		return nil, err
	}
	if resp.JWT == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeAuthInvalid,
			"Login succeeded but the server returned no token").
			WithContext("traceId", reqCtx.TraceID).Build())
	}

	return sessionFromResponse(endpoint, login, resp, c.clock.Now()), nil
}

func sessionFromResponse(endpoint, login string, resp *types.SessionResponse, now time.Time) *types.Session {
	session := &types.Session{
		Endpoint: endpoint,
		Login:    login,
		JWT:      resp.JWT,
	}
	if resp.ExpireTime > 0 {
		session.ExpiresAt = now.Add(time.Duration(resp.ExpireTime) * time.Second)
	}
	if tok := resp.Token; tok != nil {
		session.AccessToken = tok.AccessToken
		session.IDToken = tok.IDToken
		session.RefreshToken = tok.RefreshToken
		if session.ExpiresAt.IsZero() {
			if secs, err := strconv.ParseInt(tok.ExpiresAt, 10, 64); err == nil && secs > 0 {
				session.ExpiresAt = time.Unix(secs, 0)
			}
		}
	}
	return session
}

// GetUser looks up a user by login; the login is lowercased
func (c *Client) GetUser(ctx context.Context, username string) (*types.UserData, error) {
	reqCtx := NewRequestContext(ctx, "user.get")
	path := utils.UserPath + url.PathEscape(strings.ToLower(username))

	return ExecuteWithRetry(ctx, c, reqCtx, func() (*types.UserData, error) {
		var out types.UserData
		err := c.call(ctx, reqCtx, http.MethodGet, c.session.Endpoint(), path, nil, &out, true)
		return &out, err
	})
}

// ListPattern returns the bulk pattern listing the children of remotePath
func ListPattern(remotePath string) string {
	return strings.TrimSuffix(remotePath, "/") + "/*"
}

// List returns the direct children of remotePath
func (c *Client) List(ctx context.Context, remotePath string) (*types.BulkMetaData, error) {
	reqCtx := NewRequestContext(ctx, "meta.list")
	return c.bulkGet(ctx, reqCtx, []string{ListPattern(remotePath)})
}

// BulkGet resolves several node paths in one request
func (c *Client) BulkGet(ctx context.Context, paths []string) (*types.BulkMetaData, error) {
	reqCtx := NewRequestContext(ctx, "meta.bulk")
	return c.bulkGet(ctx, reqCtx, paths)
}

func (c *Client) bulkGet(ctx context.Context, reqCtx *RequestContext, paths []string) (*types.BulkMetaData, error) {
	return ExecuteWithRetry(ctx, c, reqCtx, func() (*types.BulkMetaData, error) {
		var out types.BulkMetaData
		err := c.call(ctx, reqCtx, http.MethodPost, c.session.Endpoint(), utils.MetaBulkPath, bulkRequest{NodePaths: paths}, &out, true)
		if out.Nodes == nil {
			out.Nodes = []types.Node{}
		}
		return &out, err
	})
}
