package models

import "errors"

var (
	ErrInvalidBotID        = errors.New("invalid bot id")
	ErrInvalidPath         = errors.New("invalid file path")
	ErrBotNotFound         = errors.New("bot not found, deploy first")
	ErrNotDeployed         = errors.New("bot metadata missing, deploy first")
	ErrFileNotFound        = errors.New("file not found")
	ErrAlreadyRunning      = errors.New("bot is already running")
	ErrNotRunning          = errors.New("bot is not running")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrCommandRequired     = errors.New("command is required")
	ErrCommandNotAllowed   = errors.New("command not allowed")
	ErrInvalidParam        = errors.New("invalid parameter")
	ErrBundleTooLarge      = errors.New("bundle too large")
	ErrInternal            = errors.New("internal error")
)
