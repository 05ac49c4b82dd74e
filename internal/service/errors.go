package service

import (
	"errors"
	"fmt"
)

// 错误分类，handler 通过 errors.Is 映射到对应的 HTTP 状态码；其余错误一律视为内部错误。
var (
	ErrValidation   = errors.New("invalid argument")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// 业务层具体错误，均包装上面的分类。
var (
	ErrUsernameTaken      = fmt.Errorf("%w: username or email already exists", ErrConflict)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", ErrUnauthorized)
	ErrInvalidRefresh     = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)

	ErrRoomNotFound   = fmt.Errorf("%w: room not found", ErrNotFound)
	ErrNotRoomMember  = fmt.Errorf("%w: you are not a member of this room", ErrForbidden)
	ErrDirectRoom     = fmt.Errorf("%w: direct rooms have fixed membership", ErrForbidden)
	ErrSelfDirectRoom = fmt.Errorf("%w: cannot open a direct room with yourself", ErrValidation)
	ErrRoomName       = fmt.Errorf("%w: room name must be 1-128 characters", ErrValidation)

	ErrMessageNotFound = fmt.Errorf("%w: message not found or not owned", ErrNotFound)
	ErrEmptyKeyword    = fmt.Errorf("%w: keyword is required", ErrValidation)

	ErrSelfFriend      = fmt.Errorf("%w: cannot add yourself as a friend", ErrValidation)
	ErrFriendExists    = fmt.Errorf("%w: friend request already sent or already friends", ErrConflict)
	ErrRequestNotFound = fmt.Errorf("%w: friend request not found", ErrNotFound)
)

func validationError(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
