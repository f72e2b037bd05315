// Package profile は認証済みIdentityから画面が参照するユーザー情報を組み立てる。
// プロフィール行が未作成の場合はデフォルト値で補完する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/alumniportal/internal/model"
	"github.com/hitoshi/alumniportal/internal/provider"
)

// ProfileReader はプロフィール行の取得元。provider.Providerが満たす。
type ProfileReader interface {
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
}

// FetchError はプロフィール行の取得に失敗したことを示す。
// 行が存在しない場合はこのエラーにならない。
type FetchError struct {
	ID  string
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch profile %s: %v", e.ID, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *FetchError) Unwrap() error { return e.Err }

// Resolver はIdentityとプロフィール行をマージする。
type Resolver struct {
	now func() time.Time
}

// NewResolver はResolverを生成する。nowがnilの場合はtime.Nowを使う。
func NewResolver(now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{now: now}
}

// Resolve はIdentityに対応するユーザー情報を返す。
// 行が存在しなければデフォルト値で補完し、それ以外の取得エラーは*FetchErrorを返す。
func (r *Resolver) Resolve(ctx context.Context, reader ProfileReader, ident provider.Identity) (*model.User, error) {
	p, err := r.fetch(ctx, reader, ident.ID)
	if err != nil {
		return nil, err
	}

	return &model.User{
		ID:             ident.ID,
		Email:          ident.Email,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Role:           p.Role,
		GraduationYear: p.GraduationYear,
		Course:         p.Course,
		CurrentJob:     p.CurrentJob,
		Company:        p.Company,
		Location:       p.Location,
		PhoneNumber:    p.PhoneNumber,
		IsVerified:     ident.EmailConfirmedAt != nil,
		CreatedAt:      ident.CreatedAt,
	}, nil
}

// FetchRole はIdentity IDのロールを返す。行が存在しなければ基本ロール（alumni）。
func (r *Resolver) FetchRole(ctx context.Context, reader ProfileReader, id string) (model.Role, error) {
	p, err := r.fetch(ctx, reader, id)
	if err != nil {
		return "", err
	}
	return p.Role, nil
}

// Defaults はプロフィール行が存在しない場合の値を返す。
func (r *Resolver) Defaults(id string) model.Profile {
	return model.Profile{
		ID:             id,
		Role:           model.RoleAlumni,
		GraduationYear: r.now().Year(),
	}
}

func (r *Resolver) fetch(ctx context.Context, reader ProfileReader, id string) (model.Profile, error) {
	p, err := reader.GetProfile(ctx, id)
	if errors.Is(err, provider.ErrProfileNotFound) {
		return r.Defaults(id), nil
	}
	if err != nil {
		return model.Profile{}, &FetchError{ID: id, Err: err}
	}
	if p == nil {
		return r.Defaults(id), nil
	}
	out := *p
	// 未知のロールは基本ロールとして扱う
	if !out.Role.Valid() {
		out.Role = model.RoleAlumni
	}
	return out, nil
}
