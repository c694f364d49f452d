package entity

import (
	"github.com/bitrix24/b24phpsdk-sub004/pkg/client"
	"github.com/tidwall/gjson"
)

// ItemResult is the outcome of one input item.
type ItemResult struct {
	// Index is the position of the item in the caller's input.
	Index int
	// ID is the entity identifier: the input ID for update and delete, the
	// created ID for add (0 if the add failed).
	ID       int64
	Response *client.Response
}

// Err returns the portal error for this item, or nil.
func (r ItemResult) Err() error {
	if r.Response != nil && r.Response.Error != nil {
		return r.Response.Error
	}
	return nil
}

// AddedItemResult is the outcome of one added item.
type AddedItemResult struct {
	ItemResult
}

// UpdatedItemResult is the outcome of one updated item.
type UpdatedItemResult struct {
	ItemResult
	Updated bool
}

// DeletedItemResult is the outcome of one deleted item.
type DeletedItemResult struct {
	ItemResult
	Deleted bool
}

// succeeded interprets an update or delete result: the boolean the portal
// returned, or any non-null payload.
func succeeded(resp *client.Response) bool {
	if resp == nil || resp.Error != nil {
		return false
	}
	result := gjson.ParseBytes(resp.Result)
	switch result.Type {
	case gjson.True:
		return true
	case gjson.False, gjson.Null:
		return false
	}
	return result.Exists()
}

// createdID reads the new identifier from an add result.
func createdID(resp *client.Response, path string) int64 {
	if resp == nil || resp.Error != nil {
		return 0
	}
	if path == "" {
		return gjson.ParseBytes(resp.Result).Int()
	}
	return gjson.GetBytes(resp.Result, path).Int()
}
