package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"listing-ocr/internal/listing_ocr/extractor"
	"listing-ocr/internal/listing_ocr/model"
	"listing-ocr/internal/listing_ocr/ocr"
	"listing-ocr/internal/listing_ocr/publish"
	"listing-ocr/internal/listing_ocr/source"
	"listing-ocr/internal/listing_ocr/store"
)

// Options 单次运行的参数
type Options struct {
	Delay           time.Duration // 两次 OCR 调用之间的固定间隔
	CheckpointEvery int           // 每处理 N 张图落盘一次，0 表示只在结束时落盘
	MaxItems        int           // 每轮最多处理的图片数，0 表示不限
	OCRTimeout      time.Duration
	MultiListing    bool
}

// Summary 一轮运行的统计
type Summary struct {
	RunID  string
	Listed int
	Queued int

	New            int
	RetryReprocess int
	RetryFail      int

	Processed int
	Complete  int
	Reprocess int
	Fail      int

	Published     int
	PublishFailed int

	Totals model.Counts
}

type Processor struct {
	Log        *zap.Logger
	Source     source.Lister
	OCR        ocr.Recognizer
	Extractor  *extractor.Extractor
	Store      *store.Store
	Publishers []publish.Publisher
	Options    Options

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor 创建对账处理器
func NewProcessor(log *zap.Logger, src source.Lister, rec ocr.Recognizer, x *extractor.Extractor, st *store.Store, pubs []publish.Publisher, opts Options) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		Log:        log,
		Source:     src,
		OCR:        rec,
		Extractor:  x,
		Store:      st,
		Publishers: pubs,
		Options:    opts,
		Now:        time.Now,
		Sleep:      sleep,
	}
}

// Run 列图 -> 对比已有记录 -> 逐张 OCR 并解析 -> 落盘 -> 发布。
// 列图、读存储、落盘失败返回 error；单张图片失败写成 Fail 记录；发布失败只记日志。
func (p *Processor) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	log := p.Log.With(zap.String("run_id", sum.RunID))

	// 1. 列图
	items, err := p.Source.List(ctx)
	if err != nil {
		log.Error("Failed to list images", zap.Error(err))
		return sum, fmt.Errorf("list images: %w", err)
	}
	sum.Listed = len(items)

	// 2. 读已有记录并分类
	if _, err := p.Store.Load(); err != nil {
		log.Error("Failed to load store", zap.Error(err))
		return sum, fmt.Errorf("load store: %w", err)
	}
	work := p.Store.Classify(items)
	if n := p.Options.MaxItems; n > 0 && len(work) > n {
		work = work[:n]
	}
	for _, w := range work {
		switch w.Reason {
		case model.ReasonNew:
			sum.New++
		case model.ReasonRetryReprocess:
			sum.RetryReprocess++
		case model.ReasonRetryFail:
			sum.RetryFail++
		}
	}
	sum.Queued = len(work)
	log.Info("Work queue built",
		zap.Int("listed", sum.Listed),
		zap.Int("queued", sum.Queued),
		zap.Int("new", sum.New),
		zap.Int("retryReprocess", sum.RetryReprocess),
		zap.Int("retryFail", sum.RetryFail),
	)

	// 3. 没有工作：不落盘也不发布
	if len(work) == 0 {
		sum.Totals = p.Store.Counts()
		log.Info("Nothing to process")
		return sum, nil
	}

	// 4. 逐张处理
	var stopErr error
	for i, item := range work {
		if i > 0 && p.Options.Delay > 0 {
			if err := p.sleep(ctx, p.Options.Delay); err != nil {
				stopErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		if !p.processItem(ctx, log, item, &sum) {
			stopErr = ctx.Err()
			break
		}
		sum.Processed++

		// 5. 定期落盘
		if every := p.Options.CheckpointEvery; every > 0 && sum.Processed%every == 0 && sum.Processed < len(work) {
			if err := p.Store.Persist(); err != nil {
				log.Error("Checkpoint failed", zap.Error(err))
				return sum, fmt.Errorf("checkpoint: %w", err)
			}
			log.Info("Checkpoint saved", zap.Int("processed", sum.Processed), zap.Int("queued", sum.Queued))
		}
	}

	// 6. 最终落盘
	if err := p.Store.Persist(); err != nil {
		log.Error("Failed to persist store", zap.Error(err))
		return sum, fmt.Errorf("persist store: %w", err)
	}
	sum.Totals = p.Store.Counts()

	if stopErr != nil {
		log.Warn("Run interrupted, skipping publish",
			zap.Int("processed", sum.Processed),
			zap.Int("queued", sum.Queued),
			zap.Error(stopErr),
		)
		return sum, stopErr
	}

	// 发布失败不影响本轮结果
	for _, pub := range p.Publishers {
		if err := pub.Publish(ctx, p.Store.Path()); err != nil {
			sum.PublishFailed++
			log.Error("Publish failed", zap.String("publisher", pub.Name()), zap.Error(err))
			continue
		}
		sum.Published++
		log.Info("Published artifact", zap.String("publisher", pub.Name()))
	}

	// 7. 汇总
	log.Info("Run finished",
		zap.Int("processed", sum.Processed),
		zap.Int("complete", sum.Complete),
		zap.Int("reprocess", sum.Reprocess),
		zap.Int("fail", sum.Fail),
		zap.Int("totalRecords", sum.Totals.Total),
		zap.Int("totalComplete", sum.Totals.Complete),
		zap.Int("totalReprocess", sum.Totals.Reprocess),
		zap.Int("totalFail", sum.Totals.Fail),
		zap.Int("duplicates", sum.Totals.Duplicates),
	)
	return sum, nil
}

// processItem OCR 并解析一张图，结果写入存储。外层 ctx 已取消时返回 false，且不写记录。
func (p *Processor) processItem(ctx context.Context, log *zap.Logger, item model.WorkItem, sum *Summary) bool {
	ocrCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.Options.OCRTimeout > 0 {
		ocrCtx, cancel = context.WithTimeout(ctx, p.Options.OCRTimeout)
	}
	overlay, err := p.OCR.Recognize(ocrCtx, item.ImageURL)
	cancel()
	now := p.now()

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		rec := extractor.FailRecord(item.ItemID, item.ImageURL, err, now)
		if p.Options.MultiListing {
			p.Store.ApplyImage(item.ItemID, []model.ListingRecord{rec})
		} else {
			p.Store.Apply(rec)
		}
		sum.Fail++
		log.Warn("OCR failed",
			zap.String("item_id", item.ItemID),
			zap.String("reason", string(item.Reason)),
			zap.Bool("transport", errors.Is(err, ocr.ErrTransport)),
			zap.Error(err),
		)
		return true
	}

	if p.Options.MultiListing {
		recs := p.Extractor.ExtractAll(item.ItemID, item.ImageURL, overlay, now)
		if len(recs) == 0 {
			recs = []model.ListingRecord{{
				ItemID:      item.ItemID,
				SourceURL:   item.ImageURL,
				ProcessedAt: now.UTC(),
				Status:      model.StatusReprocess,
			}}
		}
		p.Store.ApplyImage(item.ItemID, recs)
		for _, r := range recs {
			p.count(sum, r.Status)
		}
		log.Info("Processed image",
			zap.String("item_id", item.ItemID),
			zap.String("reason", string(item.Reason)),
			zap.Int("records", len(recs)),
		)
		return true
	}

	rec := p.Extractor.Extract(item.ItemID, item.ImageURL, overlay, now)
	p.Store.Apply(rec)
	p.count(sum, rec.Status)
	log.Info("Processed image",
		zap.String("item_id", item.ItemID),
		zap.String("reason", string(item.Reason)),
		zap.String("status", string(rec.Status)),
	)
	return true
}

func (p *Processor) count(sum *Summary, st model.Status) {
	switch st {
	case model.StatusComplete:
		sum.Complete++
	case model.StatusReprocess:
		sum.Reprocess++
	case model.StatusFail:
		sum.Fail++
	}
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Processor) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return sleep(ctx, d)
}

// sleep 可被 ctx 打断的等待
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
