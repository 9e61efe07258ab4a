// Package application 结算巡检：扫描到期与已成团的团，驱动
// 托管释放、订单关闭与整团退款。巡检可安全重复执行，
// 每一步都以幂等键或状态守卫兜底，中断后重扫即续作。
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	groupapp "github.com/wyfcoding/groupbuy/internal/group/application"
	groupdomain "github.com/wyfcoding/groupbuy/internal/group/domain"
	lotapp "github.com/wyfcoding/groupbuy/internal/lot/application"
	orderapp "github.com/wyfcoding/groupbuy/internal/order/application"
	orderdomain "github.com/wyfcoding/groupbuy/internal/order/domain"
	walletapp "github.com/wyfcoding/groupbuy/internal/wallet/application"
	walletdomain "github.com/wyfcoding/groupbuy/internal/wallet/domain"
	"github.com/wyfcoding/pkg/lock"
	"github.com/wyfcoding/pkg/logging"
)

// Sweeper 结算巡检器。
// 多实例部署时按团粒度抢租约，同一个团同一时刻只有一个实例在处理。
type Sweeper struct {
	groups    *groupapp.GroupService
	groupRepo groupdomain.GroupRepository
	members   groupdomain.GroupMemberRepository
	orders    *orderapp.OrderService
	wallets   *walletapp.WalletService
	shares    *lotapp.ShareCounterService
	publisher groupdomain.EventPublisher
	locker    lock.DistributedLock

	interval  time.Duration
	leaseTTL  time.Duration
	batchSize int

	cancel context.CancelFunc
	done   chan struct{}
}

// Config 巡检配置
type Config struct {
	// Interval 扫描间隔
	Interval time.Duration
	// LeaseTTL 单团处理租约时长
	LeaseTTL time.Duration
	// BatchSize 单轮每种状态最多处理的团数
	BatchSize int
}

// NewSweeper 创建结算巡检器
func NewSweeper(
	groups *groupapp.GroupService,
	groupRepo groupdomain.GroupRepository,
	members groupdomain.GroupMemberRepository,
	orders *orderapp.OrderService,
	wallets *walletapp.WalletService,
	shares *lotapp.ShareCounterService,
	publisher groupdomain.EventPublisher,
	locker lock.DistributedLock,
	cfg Config,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		groups:    groups,
		groupRepo: groupRepo,
		members:   members,
		orders:    orders,
		wallets:   wallets,
		shares:    shares,
		publisher: publisher,
		locker:    locker,
		interval:  cfg.Interval,
		leaseTTL:  cfg.LeaseTTL,
		batchSize: cfg.BatchSize,
	}
}

// Start 启动后台巡检循环。
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.SweepOnce(ctx); err != nil {
					logging.Error(ctx, "settlement sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop 停止巡检并等待当前一轮结束。
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// SweepOnce 执行一轮完整巡检：先判到期，再结算，最后退款。
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	now := time.Now()

	expired, err := s.groupRepo.ListExpiredForming(ctx, now, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list expired groups: %w", err)
	}
	for _, group := range expired {
		if _, err := s.groups.MarkExpired(ctx, group.GroupID, now); err != nil {
			logging.Error(ctx, "failed to expire group", "group_id", group.GroupID, "error", err)
		}
	}

	fulfilling, err := s.groupRepo.ListByStatus(ctx, groupdomain.StatusFulfilling, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list fulfilling groups: %w", err)
	}
	for _, group := range fulfilling {
		s.withLease(ctx, group.GroupID, func(ctx context.Context) error {
			return s.settleGroup(ctx, group.GroupID)
		})
	}

	toRefund, err := s.groupRepo.ListByStatus(ctx, groupdomain.StatusExpired, s.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list expired groups for refund: %w", err)
	}
	for _, group := range toRefund {
		s.withLease(ctx, group.GroupID, func(ctx context.Context) error {
			return s.refundGroup(ctx, group.GroupID)
		})
	}
	return nil
}

// withLease 持团级租约执行 fn，抢不到租约本轮跳过。
func (s *Sweeper) withLease(ctx context.Context, groupID string, fn func(ctx context.Context) error) {
	key := "settle:group:" + groupID
	token, err := s.locker.Lock(ctx, key, s.leaseTTL)
	if err != nil {
		if !errors.Is(err, lock.ErrLockFailed) {
			logging.Error(ctx, "failed to acquire settlement lease", "group_id", groupID, "error", err)
		}
		return
	}
	defer func() {
		if err := s.locker.Unlock(ctx, key, token); err != nil {
			logging.Warn(ctx, "failed to release settlement lease", "group_id", groupID, "error", err)
		}
	}()

	if err := fn(ctx); err != nil {
		logging.Error(ctx, "settlement pass failed", "group_id", groupID, "error", err)
	}
}

// settleGroup 结算已成团的团：释放托管给卖家、关单、切轮次、发事件。
func (s *Sweeper) settleGroup(ctx context.Context, groupID string) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Status != groupdomain.StatusFulfilling {
		return nil
	}

	lot, err := s.shares.GetLot(ctx, group.LotID)
	if err != nil {
		return err
	}
	members, err := s.members.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}

	gross := decimal.Zero
	for _, member := range members {
		gross = gross.Add(lot.UnitPrice.Mul(decimal.NewFromInt(member.Quantity)))
	}

	sellerWallet, err := s.wallets.EnsureWallet(ctx, lot.SellerID)
	if err != nil {
		return err
	}
	// 同一个团的释放以 settle:<groupID> 入账，重扫不会重复打款
	if _, err := s.wallets.ReleaseEscrow(ctx, sellerWallet.WalletID, gross,
		"settle:"+groupID, groupID); err != nil {
		return s.maybeFailSettlement(ctx, group, err)
	}

	for _, member := range members {
		if err := s.orders.Complete(ctx, member.OrderID); err != nil {
			return err
		}
	}

	if err := s.transition(ctx, groupID, groupdomain.StatusSettled); err != nil {
		return err
	}
	if err := s.shares.StartNextRound(ctx, group.LotID, group.Round); err != nil {
		return err
	}

	event := &groupdomain.GroupSettledEvent{
		GroupID:     group.GroupID,
		LotID:       group.LotID,
		Round:       group.Round,
		SellerID:    lot.SellerID,
		GrossAmount: gross.String(),
		MemberCount: len(members),
		SettledAt:   time.Now(),
	}
	if err := s.publisher.PublishGroupSettled(ctx, event); err != nil {
		logging.Error(ctx, "failed to publish group settled event", "group_id", groupID, "error", err)
	}
	logging.Info(ctx, "group settled",
		"group_id", groupID, "lot_id", group.LotID, "gross", gross.String(),
		"members", len(members))
	return nil
}

// refundGroup 整团退款：逐成员原路退款并关单，全部完成后团转 REFUNDED。
func (s *Sweeper) refundGroup(ctx context.Context, groupID string) error {
	group, err := s.groups.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Status != groupdomain.StatusExpired {
		return nil
	}

	members, err := s.members.ListByGroup(ctx, groupID)
	if err != nil {
		return err
	}

	for _, member := range members {
		if err := s.refundMember(ctx, member); err != nil {
			// 单个成员失败不拦住其余成员，留待下轮重扫补齐
			logging.Error(ctx, "failed to refund group member",
				"group_id", groupID, "order_id", member.OrderID, "error", err)
			return err
		}
	}

	if err := s.transition(ctx, groupID, groupdomain.StatusRefunded); err != nil {
		return err
	}
	if err := s.shares.StartNextRound(ctx, group.LotID, group.Round); err != nil {
		return err
	}

	event := &groupdomain.GroupRefundedEvent{
		GroupID:     group.GroupID,
		LotID:       group.LotID,
		Round:       group.Round,
		MemberCount: len(members),
		RefundedAt:  time.Now(),
	}
	if err := s.publisher.PublishGroupRefunded(ctx, event); err != nil {
		logging.Error(ctx, "failed to publish group refunded event", "group_id", groupID, "error", err)
	}
	logging.Info(ctx, "group refunded", "group_id", groupID, "members", len(members))
	return nil
}

// refundMember 按订单幂等退款：重复执行最多产生一条退款流水。
func (s *Sweeper) refundMember(ctx context.Context, member *groupdomain.GroupMember) error {
	order, err := s.orders.GetOrder(ctx, member.OrderID)
	if err != nil {
		return err
	}
	if order.Status != orderdomain.StatusPaid {
		return nil
	}

	wallet, err := s.wallets.GetWalletByUser(ctx, member.UserID)
	if err != nil {
		return err
	}

	refund, err := s.wallets.RefundOrder(ctx, wallet.WalletID, order.OrderID,
		"refund:"+order.OrderID)
	if err != nil {
		return err
	}
	return s.orders.Refund(ctx, order.OrderID, refund.EntryID)
}

// maybeFailSettlement 无法打款且属业务性拒绝时，团转 SETTLEMENT_FAILED 待人工介入；
// 其余错误原样返回，下一轮重试。
func (s *Sweeper) maybeFailSettlement(ctx context.Context, group *groupdomain.Group, cause error) error {
	if !errors.Is(cause, walletdomain.ErrWalletHalted) && !errors.Is(cause, walletdomain.ErrLedgerCorrupted) {
		return cause
	}
	if err := s.transition(ctx, group.GroupID, groupdomain.StatusSettlementFailed); err != nil {
		return errors.Join(cause, err)
	}
	logging.Error(ctx, "group settlement moved to manual intervention",
		"group_id", group.GroupID, "cause", cause)
	return cause
}

// transition 状态守卫下推进团状态，目标状态已达成时视为成功。
func (s *Sweeper) transition(ctx context.Context, groupID string, to groupdomain.GroupStatus) error {
	return s.groupRepo.ExecSerialized(ctx, groupID, func(ctx context.Context) error {
		group, err := s.groupRepo.Get(ctx, groupID)
		if err != nil {
			return err
		}
		if group == nil {
			return groupdomain.ErrGroupNotFound
		}
		if group.Status == to {
			return nil
		}
		if err := group.TransitionTo(to); err != nil {
			return err
		}
		return s.groupRepo.Save(ctx, group)
	})
}
