package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// OpenRequest is the trade intent emitted by an open_trade action. The state
// machine computes the numeric fields from expressions; the executor (the
// simulator, or a live bridge) owns the fill.
type OpenRequest struct {
	Ticket    string    `yaml:"ticket" json:"ticket" validate:"required,uuid"`
	Symbol    string    `yaml:"symbol" json:"symbol" validate:"required"`
	Direction Direction `yaml:"direction" json:"direction" validate:"required,oneof=buy sell"`
	Lot       float64   `yaml:"lot" json:"lot" validate:"required,gt=0"`
	// StopLoss/TakeProfit are absent when the action declared no sl/tp
	// expression.
	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	// Phase, Vars and Indicators snapshot the evaluation context at entry.
	Phase      string             `yaml:"phase" json:"phase" validate:"required"`
	Vars       map[string]float64 `yaml:"vars" json:"vars"`
	Indicators map[string]float64 `yaml:"indicators" json:"indicators"`
	Bar        int                `yaml:"bar" json:"bar" validate:"gte=0"`
	Time       time.Time          `yaml:"time" json:"time" validate:"required"`
}

// Validate validates the OpenRequest struct and the SL/TP geometry relative
// to the trade direction.
func (r *OpenRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidAction, "invalid open request", err)
	}

	if r.StopLoss.IsSome() && r.TakeProfit.IsSome() {
		sl := r.StopLoss.Unwrap()
		tp := r.TakeProfit.Unwrap()

		if r.Direction == DirectionBuy && sl >= tp {
			return errors.Newf(errors.ErrCodeInvalidAction, "buy stop-loss %f must be below take-profit %f", sl, tp)
		}

		if r.Direction == DirectionSell && sl <= tp {
			return errors.Newf(errors.ErrCodeInvalidAction, "sell stop-loss %f must be above take-profit %f", sl, tp)
		}
	}

	return nil
}

// CloseRequest asks the executor to close the full remaining position.
type CloseRequest struct {
	Ticket string     `yaml:"ticket" json:"ticket" validate:"required,uuid"`
	Reason ExitReason `yaml:"reason" json:"reason" validate:"required,oneof=sl tp timeout manual phase_change"`
	Bar    int        `yaml:"bar" json:"bar" validate:"gte=0"`
	Time   time.Time  `yaml:"time" json:"time" validate:"required"`
}

// Validate validates the CloseRequest struct.
func (r *CloseRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidAction, "invalid close request", err)
	}

	return nil
}

// PartialCloseRequest asks the executor to close a percentage of the
// remaining lot. Rule names the management rule that fired, for the event
// log.
type PartialCloseRequest struct {
	Ticket  string    `yaml:"ticket" json:"ticket" validate:"required,uuid"`
	Percent float64   `yaml:"percent" json:"percent" validate:"required,gt=0,lte=100"`
	Rule    string    `yaml:"rule" json:"rule" validate:"required"`
	Bar     int       `yaml:"bar" json:"bar" validate:"gte=0"`
	Time    time.Time `yaml:"time" json:"time" validate:"required"`
}

// Validate validates the PartialCloseRequest struct.
func (r *PartialCloseRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidAction, "invalid partial close request", err)
	}

	return nil
}

// ModifyRequest moves the stop-loss and/or take-profit of the open position.
// Only the fields that are Some change.
type ModifyRequest struct {
	Ticket     string                   `yaml:"ticket" json:"ticket" validate:"required,uuid"`
	StopLoss   optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	Rule       string                   `yaml:"rule" json:"rule" validate:"required"`
	Bar        int                      `yaml:"bar" json:"bar" validate:"gte=0"`
	Time       time.Time                `yaml:"time" json:"time" validate:"required"`
}

// Validate validates the ModifyRequest struct. At least one of the two price
// fields must be present.
func (r *ModifyRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidAction, "invalid modify request", err)
	}

	if r.StopLoss.IsNone() && r.TakeProfit.IsNone() {
		return errors.New(errors.ErrCodeInvalidAction, "modify request changes neither stop-loss nor take-profit")
	}

	return nil
}
