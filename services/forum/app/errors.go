package app

import "errors"

var (
	ErrTitleDescriptionRequired = errors.New("title and description are required")
	ErrContentRequired          = errors.New("content is required")

	ErrForumNotFound   = errors.New("forum not found")
	ErrCommentNotFound = errors.New("comment not found")

	// ErrNotOwner is returned when a verified identity tries to mutate a
	// resource someone else created.
	ErrNotOwner = errors.New("not the resource owner")
)
