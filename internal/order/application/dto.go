package application

import "github.com/wyfcoding/groupbuy/internal/order/domain"

// OrderDTO 订单展示模型
type OrderDTO struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	LotID          string `json:"lot_id"`
	Round          int64  `json:"round"`
	Quantity       int64  `json:"quantity"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	PaymentEntryID string `json:"payment_entry_id,omitempty"`
	RefundEntryID  string `json:"refund_entry_id,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// ToOrderDTO 领域订单转展示模型
func ToOrderDTO(order *domain.Order) *OrderDTO {
	return &OrderDTO{
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		LotID:          order.LotID,
		Round:          order.Round,
		Quantity:       order.Quantity,
		Amount:         order.Amount.String(),
		Status:         string(order.Status),
		PaymentEntryID: order.PaymentEntryID,
		RefundEntryID:  order.RefundEntryID,
		CreatedAt:      order.CreatedAt.Unix(),
		UpdatedAt:      order.UpdatedAt.Unix(),
	}
}

// ToOrderDTOs 批量转换
func ToOrderDTOs(orders []*domain.Order) []*OrderDTO {
	out := make([]*OrderDTO, 0, len(orders))
	for _, order := range orders {
		out = append(out, ToOrderDTO(order))
	}
	return out
}
