package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/storage"
	"github.com/stretchr/testify/require"
)

func TestGetProfile_LazyCreate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()

	env.profiles.EXPECT().ProfileByUserID(gomock.Any(), id.ID).Return(nil, storage.ErrNotFound)
	env.profiles.EXPECT().CreateProfile(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *models.Profile) (*models.Profile, error) {
			require.Equal(t, id.ID, p.UserID)
			require.Equal(t, id.Email, p.Email)
			return p, nil
		})

	p, err := env.svc.GetProfile(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id.ID, p.UserID)
}

func TestGetProfile_CreateRace(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()
	existing := &models.Profile{UserID: id.ID, Email: id.Email, FullName: "Ada"}

	gomock.InOrder(
		env.profiles.EXPECT().ProfileByUserID(gomock.Any(), id.ID).Return(nil, storage.ErrNotFound),
		env.profiles.EXPECT().CreateProfile(gomock.Any(), gomock.Any()).Return(nil, storage.ErrAlreadyExists),
		env.profiles.EXPECT().ProfileByUserID(gomock.Any(), id.ID).Return(existing, nil),
	)

	p, err := env.svc.GetProfile(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Ada", p.FullName)
}

func TestGetProfile_StorageError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()

	env.profiles.EXPECT().ProfileByUserID(gomock.Any(), id.ID).Return(nil, errors.New("db down"))

	_, err := env.svc.GetProfile(context.Background(), id)
	requireKind(t, err, ErrInternal, MsgInternal)
}

func TestUpdateProfile_TooLong(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	long := strings.Repeat("ж", maxProfileField+1)

	_, err := env.svc.UpdateProfile(context.Background(), testIdentity(), models.ProfileUpdate{Organization: &long})
	requireKind(t, err, ErrValidation, MsgFieldTooLong)

	ok := strings.Repeat("ж", maxProfileField)
	env.profiles.EXPECT().UpdateProfile(gomock.Any(), gomock.Any(), gomock.Any()).Return(&models.Profile{}, nil)
	_, err = env.svc.UpdateProfile(context.Background(), testIdentity(), models.ProfileUpdate{Organization: &ok})
	require.NoError(t, err)
}

// Пустое обновление не пишет в хранилище, а возвращает текущий профиль.
func TestUpdateProfile_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()
	pic := "avatars/x.png"

	env.profiles.EXPECT().ProfileByUserID(gomock.Any(), id.ID).Return(&models.Profile{UserID: id.ID}, nil)

	// profile_picture через PATCH не меняется.
	p, err := env.svc.UpdateProfile(context.Background(), id, models.ProfileUpdate{ProfilePicture: &pic})
	require.NoError(t, err)
	require.Equal(t, id.ID, p.UserID)
}

func TestUpdateProfile_Trims(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()
	name, role := "  Ada Lovelace ", " PI "

	env.profiles.EXPECT().UpdateProfile(gomock.Any(), id.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, upd models.ProfileUpdate) (*models.Profile, error) {
			require.Equal(t, "Ada Lovelace", *upd.FullName)
			require.Equal(t, "PI", *upd.Role)
			require.Nil(t, upd.Organization)
			return &models.Profile{UserID: id.ID, FullName: *upd.FullName, Role: *upd.Role}, nil
		})

	p, err := env.svc.UpdateProfile(context.Background(), id, models.ProfileUpdate{FullName: &name, Role: &role})
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", p.FullName)
}

func TestProfilePicture_Unavailable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	id := testIdentity()

	_, err := env.svc.ProfilePictureUploadURL(context.Background(), id.ID, "image/png", 10)
	requireKind(t, err, ErrUnavailable, MsgUploadsDisabled)

	_, err = env.svc.ConfirmProfilePicture(context.Background(), id, "avatars/k")
	requireKind(t, err, ErrUnavailable, MsgUploadsDisabled)

	_, err = env.svc.Upload(context.Background(), id.ID, "a.csv", "text/csv", 3, strings.NewReader("a,b"))
	requireKind(t, err, ErrUnavailable, MsgUploadsDisabled)
}

func TestProfilePictureUploadURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	id := testIdentity()

	env.files.EXPECT().AvatarUploadURL(gomock.Any(), id.ID, "image/gif", int64(10)).Return(nil, storage.ErrInvalidArgument)
	_, err := env.svc.ProfilePictureUploadURL(context.Background(), id.ID, "image/gif", 10)
	requireKind(t, err, ErrValidation, MsgInvalidPicture)

	info := &models.UploadInfo{UploadURL: "http://minio/put", Key: "avatars/k.png"}
	env.files.EXPECT().AvatarUploadURL(gomock.Any(), id.ID, "image/png", int64(10)).Return(info, nil)
	got, err := env.svc.ProfilePictureUploadURL(context.Background(), id.ID, "image/png", 10)
	require.NoError(t, err)
	require.Equal(t, info, got)
}

func TestConfirmProfilePicture(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	id := testIdentity()
	key := "avatars/" + id.ID.String() + "/pic.png"

	_, err := env.svc.ConfirmProfilePicture(context.Background(), id, " ")
	requireKind(t, err, ErrValidation, MsgInvalidPicture)

	env.files.EXPECT().CheckAvatarUpload(gomock.Any(), id.ID, key).Return("", storage.ErrNotFound)
	_, err = env.svc.ConfirmProfilePicture(context.Background(), id, key)
	requireKind(t, err, ErrValidation, MsgInvalidPicture)

	env.files.EXPECT().CheckAvatarUpload(gomock.Any(), id.ID, key).Return("http://cdn/"+key, nil)
	env.profiles.EXPECT().ProfileByUserID(gomock.Any(), id.ID).Return(&models.Profile{UserID: id.ID}, nil)
	env.profiles.EXPECT().UpdateProfile(gomock.Any(), id.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ any, upd models.ProfileUpdate) (*models.Profile, error) {
			require.NotNil(t, upd.ProfilePicture)
			return &models.Profile{UserID: id.ID, ProfilePicture: *upd.ProfilePicture}, nil
		})

	p, err := env.svc.ConfirmProfilePicture(context.Background(), id, key)
	require.NoError(t, err)
	require.Equal(t, "http://cdn/"+key, p.ProfilePicture)
}

func TestUpload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	id := testIdentity()
	body := []byte("a,b\n1,2\n")

	_, err := env.svc.Upload(context.Background(), id.ID, "", "", 0, nil)
	requireKind(t, err, ErrValidation, MsgNoFile)

	_, err = env.svc.Upload(context.Background(), id.ID, "run.exe", "", 3, bytes.NewReader(body))
	requireKind(t, err, ErrValidation, MsgFileTypeNotAllowed)

	_, err = env.svc.Upload(context.Background(), id.ID, "big.csv", "text/csv", 2<<20, bytes.NewReader(body))
	requireKind(t, err, ErrValidation, MsgFileTooLarge)

	want := &models.UploadedFile{Key: "uploads/x.csv", OriginalName: "Data.CSV", Size: int64(len(body))}
	env.files.EXPECT().PutUpload(gomock.Any(), id.ID, "Data.CSV", "text/csv", int64(len(body)), gomock.Any()).Return(want, nil)

	got, err := env.svc.Upload(context.Background(), id.ID, "Data.CSV", "text/csv", int64(len(body)), bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, want, got)
}
