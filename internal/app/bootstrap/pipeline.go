package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/messaging-service/internal/config"
	"github.com/wolfman30/messaging-service/internal/delivery"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/internal/observability/metrics"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

const memoryQueueBuffer = 1024

// PipelineDeps are the inputs the delivery pipeline is assembled from.
type PipelineDeps struct {
	Repo     messaging.Repository
	Gateways *delivery.Gateways
	AWS      *aws.Config
	Metrics  *metrics.DeliveryMetrics
	Logger   *logging.Logger
}

// Pipeline is the wired delivery stack: the machine attempts sends, the
// publisher queues retries, and the worker and reconciler drive the queue.
type Pipeline struct {
	Queue      delivery.Queue
	Publisher  *delivery.Publisher
	Machine    *delivery.Machine
	Scheduler  *delivery.Scheduler
	Worker     *delivery.Worker
	Reconciler *delivery.Reconciler
	memory     *delivery.MemoryQueue
}

// Close releases in-process queue timers. SQS needs no cleanup.
func (p *Pipeline) Close() {
	if p != nil && p.memory != nil {
		p.memory.Close()
	}
}

// BuildPipeline wires the delivery machine, queue, worker and reconciler.
// USE_MEMORY_QUEUE selects an in-process queue; otherwise DELIVERY_QUEUE_URL
// must point at an SQS queue.
func BuildPipeline(cfg *appconfig.Config, deps PipelineDeps) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.Repo == nil || deps.Gateways == nil {
		return nil, fmt.Errorf("bootstrap: repository and gateways are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	p := &Pipeline{}
	switch {
	case cfg.UseMemoryQueue:
		p.memory = delivery.NewMemoryQueue(memoryQueueBuffer)
		p.Queue = p.memory
		logger.Info("delivery queue: in-memory")
	case strings.TrimSpace(cfg.DeliveryQueueURL) != "" && deps.AWS != nil:
		p.Queue = delivery.NewSQSQueue(sqs.NewFromConfig(*deps.AWS), cfg.DeliveryQueueURL)
		logger.Info("delivery queue: sqs", "queue_url", cfg.DeliveryQueueURL)
	default:
		return nil, fmt.Errorf("bootstrap: DELIVERY_QUEUE_URL and AWS config are required unless USE_MEMORY_QUEUE is set")
	}

	policy := delivery.Policy{
		MaxAttempts:      cfg.MaxSendAttempts,
		BaseDelay:        cfg.SendBaseDelay,
		MaxDelay:         cfg.SendMaxDelay,
		UnknownAsSuccess: cfg.UnknownStatusAsSuccess,
	}

	p.Publisher = delivery.NewPublisher(p.Queue, deps.Metrics, logger)
	p.Machine = delivery.NewMachine(deps.Repo, deps.Gateways, policy, logger,
		delivery.WithRetryScheduler(p.Publisher),
		delivery.WithAttemptLease(cfg.AttemptLease),
		delivery.WithProviderTimeout(cfg.ProviderTimeout),
		delivery.WithMetrics(deps.Metrics),
	)
	p.Scheduler = delivery.NewScheduler(p.Machine, p.Publisher, logger)
	p.Worker = delivery.NewWorker(p.Machine, p.Queue, p.Publisher, logger,
		delivery.WithWorkerCount(cfg.WorkerCount),
	)
	p.Reconciler = delivery.NewReconciler(deps.Repo, p.Publisher, logger).
		WithInterval(cfg.ReconcileInterval).
		WithGrace(cfg.ReconcileGrace).
		WithBatchSize(cfg.ReconcileBatchSize)
	return p, nil
}
