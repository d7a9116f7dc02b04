package service

import (
	"context"
	"time"

	"github.com/diancan-pay/internal/constants"
	"github.com/diancan-pay/internal/logger"
	"github.com/diancan-pay/internal/models"
	"github.com/diancan-pay/internal/repository"
)

// ReconciliationCell 对账报表单元：日×方式×状态的笔数与金额
type ReconciliationCell struct {
	Day         string       `json:"day"`
	Method      string       `json:"method"`
	Status      string       `json:"status"`
	Count       int64        `json:"count"`
	TotalAmount models.Money `json:"total_amount"`
}

// ReconciliationDiscrepancy 对账差异项
// 仅报告，不自动纠正。
type ReconciliationDiscrepancy struct {
	PaymentNo      string `json:"payment_no"`
	Method         string `json:"method"`
	Kind           string `json:"kind"`
	LocalStatus    string `json:"local_status"`
	GatewayOutcome string `json:"gateway_outcome"`
	LocalAmount    string `json:"local_amount"`
	GatewayAmount  string `json:"gateway_amount,omitempty"`
}

// ReconciliationReport 对账报表
type ReconciliationReport struct {
	From           time.Time                   `json:"from"`
	To             time.Time                   `json:"to"`
	Cells          []ReconciliationCell        `json:"cells"`
	Discrepancies  []ReconciliationDiscrepancy `json:"discrepancies"`
	CheckedPending int                         `json:"checked_pending"`
	CheckedPaid    int                         `json:"checked_paid"`
}

// GetReconciliation 生成对账报表
// 本地日×方式聚合，叠加范围内 pending/paid 抽样与网关侧状态交叉核对；
// 差异只报告，永不在报表路径上修改任何支付记录。
func (s *PaymentService) GetReconciliation(ctx context.Context, from, to time.Time, method string) (*ReconciliationReport, error) {
	rows, err := s.paymentRepo.GetDailyStats(from, to)
	if err != nil {
		return nil, err
	}
	report := &ReconciliationReport{
		From:          from,
		To:            to,
		Cells:         make([]ReconciliationCell, 0, len(rows)),
		Discrepancies: []ReconciliationDiscrepancy{},
	}
	for _, row := range rows {
		if method != "" && row.Method != method {
			continue
		}
		report.Cells = append(report.Cells, ReconciliationCell{
			Day:         row.Day,
			Method:      row.Method,
			Status:      row.Status,
			Count:       row.Count,
			TotalAmount: row.TotalAmount,
		})
	}

	methods := gatewayMethodsFilter(method)
	if len(methods) == 0 {
		return report, nil
	}
	limit := s.reconcileQueryLimit()

	pendings, err := s.paymentRepo.ListPendingInRange(from, to, methods, limit)
	if err != nil {
		return nil, err
	}
	for i := range pendings {
		record := &pendings[i]
		report.CheckedPending++
		s.appendPendingDiscrepancy(ctx, report, record)
	}

	paidFilter := repository.PaymentListFilter{
		Status:      constants.PaymentStatusPaid,
		Method:      method,
		CreatedFrom: &from,
		CreatedTo:   &to,
		Page:        1,
		PageSize:    limit,
	}
	paid, _, err := s.paymentRepo.List(paidFilter)
	if err != nil {
		return nil, err
	}
	for i := range paid {
		record := &paid[i]
		if record.Method == constants.PaymentMethodBalance {
			continue
		}
		report.CheckedPaid++
		s.appendPaidDiscrepancy(ctx, report, record)
	}
	logger.Infow("reconciliation_report_built",
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
		"checked_pending", report.CheckedPending,
		"checked_paid", report.CheckedPaid,
		"discrepancies", len(report.Discrepancies),
	)
	return report, nil
}

// appendPendingDiscrepancy pending 记录的网关侧核对
// 网关已成功而本地仍 pending、金额不符、网关侧不可知均记为差异。
func (s *PaymentService) appendPendingDiscrepancy(ctx context.Context, report *ReconciliationReport, record *models.Payment) {
	status := s.queryGatewayStatus(ctx, record)
	if status == nil {
		return
	}
	switch status.Outcome {
	case constants.GatewayOutcomeSuccess:
		kind := constants.ReconciliationKindGatewayPaidLocalPending
		gatewayAmount := status.Amount
		if parsed, err := models.NewMoneyFromString(status.Amount); err == nil && !parsed.Equal(record.Amount) {
			kind = constants.ReconciliationKindAmountMismatch
		}
		report.Discrepancies = append(report.Discrepancies, ReconciliationDiscrepancy{
			PaymentNo:      record.PaymentNo,
			Method:         record.Method,
			Kind:           kind,
			LocalStatus:    record.Status,
			GatewayOutcome: status.Outcome,
			LocalAmount:    record.Amount.String(),
			GatewayAmount:  gatewayAmount,
		})
	case constants.GatewayOutcomeUnknown:
		report.Discrepancies = append(report.Discrepancies, ReconciliationDiscrepancy{
			PaymentNo:      record.PaymentNo,
			Method:         record.Method,
			Kind:           constants.ReconciliationKindGatewayUnknown,
			LocalStatus:    record.Status,
			GatewayOutcome: status.Outcome,
			LocalAmount:    record.Amount.String(),
		})
	}
}

// appendPaidDiscrepancy paid 记录的网关侧核对
// 网关侧查不到或已关闭的本地已支付记录记为差异。
func (s *PaymentService) appendPaidDiscrepancy(ctx context.Context, report *ReconciliationReport, record *models.Payment) {
	status := s.queryGatewayStatus(ctx, record)
	if status == nil {
		return
	}
	switch status.Outcome {
	case constants.GatewayOutcomeFailure:
		report.Discrepancies = append(report.Discrepancies, ReconciliationDiscrepancy{
			PaymentNo:      record.PaymentNo,
			Method:         record.Method,
			Kind:           constants.ReconciliationKindLocalPaidGatewayMissing,
			LocalStatus:    record.Status,
			GatewayOutcome: status.Outcome,
			LocalAmount:    record.Amount.String(),
		})
	case constants.GatewayOutcomeSuccess:
		if parsed, err := models.NewMoneyFromString(status.Amount); err == nil && !parsed.Equal(record.Amount) {
			report.Discrepancies = append(report.Discrepancies, ReconciliationDiscrepancy{
				PaymentNo:      record.PaymentNo,
				Method:         record.Method,
				Kind:           constants.ReconciliationKindAmountMismatch,
				LocalStatus:    record.Status,
				GatewayOutcome: status.Outcome,
				LocalAmount:    record.Amount.String(),
				GatewayAmount:  status.Amount,
			})
		}
	}
}

func (s *PaymentService) queryGatewayStatus(ctx context.Context, record *models.Payment) *paymentStatusView {
	gw, ok := s.gateways.Get(record.Method)
	if !ok {
		return nil
	}
	status, err := gw.QueryStatus(ctx, record.PaymentNo)
	if err != nil {
		logger.Warnw("reconcile_gateway_query_failed", "payment_no", record.PaymentNo, "error", err)
		return nil
	}
	return &paymentStatusView{Outcome: status.Outcome, Amount: status.Amount}
}

type paymentStatusView struct {
	Outcome string
	Amount  string
}

// gatewayMethodsFilter 对账只核对网关方式；指定方式时收敛到该方式
func gatewayMethodsFilter(method string) []string {
	gatewayMethods := []string{constants.PaymentMethodWechat, constants.PaymentMethodAlipay}
	if method == "" {
		return gatewayMethods
	}
	for _, m := range gatewayMethods {
		if m == method {
			return []string{m}
		}
	}
	return nil
}

func (s *PaymentService) reconcileQueryLimit() int {
	if s.cfg != nil && s.cfg.ReconcileQueryLimit > 0 {
		return s.cfg.ReconcileQueryLimit
	}
	return 50
}
