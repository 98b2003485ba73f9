package services

import "errors"

var (
	ErrNoFilesProvided = errors.New("no files uploaded")
	ErrNoSessionID     = errors.New("no chat ID provided")
	ErrTooManyFiles    = errors.New("too many files in one upload")
	ErrNotPDF          = errors.New("only PDF files are accepted")
	ErrJobNotFound     = errors.New("job not found")
	ErrNoQuery         = errors.New("no message provided")
)
