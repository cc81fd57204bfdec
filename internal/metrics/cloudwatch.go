package metrics

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "whalewatch/config"
	"whalewatch/logger"
)

//go:embed CWdash.json
var dashboardTemplate string

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

// Each metric/dimension series is published at most once per interval.
var (
	cloudWatchPublishInterval = 30 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	lastPublishMu sync.Mutex
	lastPublish   = make(map[string]time.Time)
)

func init() {
	cwState.Store(&cloudWatchState{namespace: "Whalewatch", dashboardName: "Whalewatch"})
}

func resetMetricPublishTimes() {
	lastPublishMu.Lock()
	lastPublish = make(map[string]time.Time)
	lastPublishMu.Unlock()
}

// InitCloudWatch creates the CloudWatch client and applies the embedded
// dashboard. Failures leave publishing disabled and are only logged.
func InitCloudWatch(ctx context.Context, cfg appconfig.CloudWatchConfig) {
	log := logger.GetLogger().WithComponent("cloudwatch")
	if !cfg.Enabled {
		return
	}

	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(awsCfg)
	if cfg.Namespace != "" {
		state.namespace = cfg.Namespace
	}
	if cfg.Dashboard != "" {
		state.dashboardName = cfg.Dashboard
	}
	state.region = awsCfg.Region
	if state.region == "" {
		state.region = region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{"region": state.region, "namespace": state.namespace}).Info("initialized CloudWatch client")
	if err := CreateDashboardFromTemplate(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// numeric values to CloudWatch when configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	m, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}
	v, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	publishMetricDatum(m, v)
}

// CreateDashboardFromTemplate renders CWdash.json for the configured
// namespace and region and stores it as the CloudWatch dashboard.
func CreateDashboardFromTemplate(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	body, err := renderDashboard(state.namespace, state.region)
	if err != nil {
		return err
	}
	_, err = state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("put dashboard %s: %w", state.dashboardName, err)
	}
	return nil
}

func renderDashboard(namespace, region string) (string, error) {
	body := dashboardTemplate
	if namespace != "" {
		body = strings.ReplaceAll(body, `"Whalewatch"`, fmt.Sprintf("%q", namespace))
	}
	if region != "" {
		body = strings.ReplaceAll(body, `"us-east-1"`, fmt.Sprintf("%q", region))
	}
	if !json.Valid([]byte(body)) {
		return "", fmt.Errorf("dashboard template is not valid JSON after substitution")
	}
	return body, nil
}

func publishMetricDatum(m Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	unit := cwtypes.StandardUnitCount
	if raw, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(raw); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	key := m.Component + "/" + m.Name
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
			key += "/" + k + "=" + s
		}
	}

	now := timeNow()
	lastPublishMu.Lock()
	if last, ok := lastPublish[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		lastPublishMu.Unlock()
		return
	}
	lastPublish[key] = now
	lastPublishMu.Unlock()

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}})
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	case "megabytes":
		return cwtypes.StandardUnitMegabytes, true
	case "seconds":
		return cwtypes.StandardUnitSeconds, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	default:
		return cwtypes.StandardUnitCount, false
	}
}
