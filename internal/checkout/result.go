package checkout

import (
	"encoding/json"

	"group_buy/internal/model"
	pkgerrors "group_buy/pkg/errors"

	"go.uber.org/multierr"
)

// PartitionError 单个活动分区的失败原因。
type PartitionError struct {
	GroupBuyID string
	Err        error
}

func (p PartitionError) Error() string {
	return p.GroupBuyID + ": " + p.Err.Error()
}

func (p PartitionError) Unwrap() error { return p.Err }

func (p PartitionError) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"groupBuyId": p.GroupBuyID,
		"code":       pkgerrors.CodeOf(p.Err),
	}
	if typed := pkgerrors.As(p.Err); typed != nil {
		out["msg"] = typed.Message()
		if d := typed.Details(); d != nil {
			out["details"] = d
		}
	} else {
		out["msg"] = pkgerrors.MetadataFor(pkgerrors.CodeInternal).PublicMessage
	}
	return json.Marshal(out)
}

// Result 提交结果：成功的订单与逐分区的失败。
type Result struct {
	OrderIDs []string         `json:"orderIds"`
	Orders   []model.Order    `json:"orders,omitempty"`
	Errors   []PartitionError `json:"errors,omitempty"`
}

// Err 合并全部分区错误；全部成功时为 nil。
func (r Result) Err() error {
	var err error
	for _, pe := range r.Errors {
		err = multierr.Append(err, pe)
	}
	return err
}

// FailedFor 返回某个活动分区的错误。
func (r Result) FailedFor(groupBuyID string) error {
	for _, pe := range r.Errors {
		if pe.GroupBuyID == groupBuyID {
			return pe.Err
		}
	}
	return nil
}
