package wire

import (
	"errors"

	"github.com/dot-do/mondodb/internal/merr"
	"go.mongodb.org/mongo-driver/bson"
)

// errorReply renders err as the {ok: 0, errmsg, code, codeName} document
// every MongoDB command reply uses to signal failure (spec.md §6/§7).
func errorReply(err error) bson.M {
	var me *merr.Error
	if errors.As(err, &me) {
		reply := bson.M{
			"ok":     float64(0),
			"errmsg": me.Error(),
			"code":   me.Code,
		}
		if me.CodeName != "" {
			reply["codeName"] = me.CodeName
		} else if name, ok := codeNames[me.Code]; ok {
			reply["codeName"] = name
		}
		return reply
	}
	return bson.M{
		"ok":     float64(0),
		"errmsg": err.Error(),
		"code":   merr.CodeInternal,
	}
}

var codeNames = map[int]string{
	merr.CodeInternal:          "InternalError",
	merr.CodeBadValue:          "BadValue",
	merr.CodeUnauthorized:      "Unauthorized",
	merr.CodeNamespaceNotFound: "NamespaceNotFound",
	merr.CodeDuplicateKey:      "DuplicateKey",
	merr.CodeCursorNotFound:    "CursorNotFound",
	merr.CodeCommandNotFound:   "CommandNotFound",
}
