// Package payment 维护订单台账。引擎只消费"是否存在履约订单且实付
// 达到有效价格"这一事实；履约事件在这里转成一次状态重算。
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"gorm.io/gorm"

	"admitHub/internal/apperr"
	"admitHub/internal/catalog"
	"admitHub/internal/database"
	"admitHub/internal/engine"
)

// Ledger 封装订单写入与履约上报。
type Ledger struct {
	db     *gorm.DB
	eng    *engine.Engine
	prices *catalog.Store
}

// NewLedger 构造台账。
func NewLedger(db *gorm.DB, eng *engine.Engine, prices *catalog.Store) *Ledger {
	return &Ledger{db: db, eng: eng, prices: prices}
}

// CreateOrder 为申请开一张订单，单条目价格取当前有效价。
func (l *Ledger) CreateOrder(ctx context.Context, applicationID uint) (*database.Order, error) {
	var app database.Application
	if err := l.db.WithContext(ctx).Preload("Run").First(&app, applicationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("application")
		}
		return nil, fmt.Errorf("query application %d: %w", applicationID, err)
	}

	price, err := l.prices.EffectivePrice(ctx, app.UserID, app.RunID)
	if err != nil {
		return nil, err
	}

	runKey := app.Run.ExternalCourseKey
	if runKey == "" {
		runKey = "run-" + strconv.FormatUint(uint64(app.RunID), 10)
	}

	order := database.Order{
		UserID:        app.UserID,
		ApplicationID: &app.ID,
		Status:        database.OrderCreated,
		Lines: []database.OrderLine{
			{RunKey: runKey, PriceCents: price},
		},
	}
	if err := l.db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

// RecordFulfilled 接收"订单已履约"事件：记录实付金额并驱动引擎重算。
// 支付网关如何扣款对本系统不可见。
func (l *Ledger) RecordFulfilled(ctx context.Context, orderID uint, totalPaidCents int64) (*database.Application, error) {
	var order database.Order
	if err := l.db.WithContext(ctx).First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("order")
		}
		return nil, fmt.Errorf("query order %d: %w", orderID, err)
	}

	if order.Status == database.OrderRefunded {
		return nil, apperr.Conflict("order has been refunded")
	}
	if order.ApplicationID == nil {
		return nil, apperr.Validation("order is not attached to an application", nil)
	}

	updates := map[string]any{
		"status":           database.OrderFulfilled,
		"total_paid_cents": totalPaidCents,
	}
	if err := l.db.WithContext(ctx).Model(&order).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("mark order fulfilled: %w", err)
	}

	return l.eng.RecordOrderFulfilled(ctx, *order.ApplicationID, order.ID)
}
