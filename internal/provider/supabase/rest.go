package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// profilesPath はprofilesテーブルのエンドポイント。
const profilesPath = "/rest/v1/profiles"

// pgrstObject は単一行を要求するAcceptヘッダー。0行の場合PostgRESTは406を返す。
const pgrstObject = "application/vnd.pgrst.object+json"

// profileRow はprofilesテーブルへの挿入行。未設定のタイムスタンプはDB側のデフォルトに任せる。
type profileRow struct {
	ID             string     `json:"id"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Role           model.Role `json:"role"`
	GraduationYear int        `json:"graduation_year"`
	Course         string     `json:"course"`
	CurrentJob     string     `json:"current_job,omitempty"`
	Company        string     `json:"company,omitempty"`
	Location       string     `json:"location,omitempty"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// bearer はRLSのためにログイン中ならアクセストークンを返す。未ログインなら空文字（anonキー）。
func (c *Client) bearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

// GetProfile はIdentity IDに対応するプロフィール行を取得する。
func (c *Client) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	err := c.f.do(ctx, request{
		method:  http.MethodGet,
		path:    profilesPath,
		query:   url.Values{"id": {"eq." + id}, "select": {"*"}},
		bearer:  c.bearer(),
		headers: map[string]string{"Accept": pgrstObject},
	}, &p)
	if err != nil {
		var pe *provider.Error
		if errors.As(err, &pe) && (pe.Kind == provider.KindNotFound || pe.Status == http.StatusNotAcceptable) {
			return nil, provider.ErrProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// InsertProfile はプロフィール行を作成する。
func (c *Client) InsertProfile(ctx context.Context, p *model.Profile) error {
	row := profileRow{
		ID:             p.ID,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Role:           p.Role,
		GraduationYear: p.GraduationYear,
		Course:         p.Course,
		CurrentJob:     p.CurrentJob,
		Company:        p.Company,
		Location:       p.Location,
		PhoneNumber:    p.PhoneNumber,
	}
	if !p.CreatedAt.IsZero() {
		created := p.CreatedAt
		row.CreatedAt = &created
	}
	return c.f.do(ctx, request{
		method:  http.MethodPost,
		path:    profilesPath,
		body:    row,
		bearer:  c.bearer(),
		headers: map[string]string{"Prefer": "return=minimal"},
	}, nil)
}
