package blueprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xela07ax/scalegov-prototype/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// duration парсит YAML-строки вида "30s", "1h" в time.Duration
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// Документ — внешний YAML-формат Blueprint. Отдельная структура, чтобы
// доменная модель не зависела от формата сериализации длительностей.
type ruleDoc struct {
	Kind         string               `yaml:"kind"`
	Action       string               `yaml:"action"`
	Condition    string               `yaml:"condition"`
	Value        float64              `yaml:"value"`
	Rationale    string               `yaml:"rationale"`
	Alternatives []domain.Alternative `yaml:"alternatives"`
	Approvers    []string             `yaml:"approvers"`
	Timeout      duration             `yaml:"timeout"`
}

type blueprintDoc struct {
	Service  string `yaml:"service"`
	Priority int    `yaml:"priority"`

	MinReplicas int `yaml:"min_replicas"`
	MaxReplicas int `yaml:"max_replicas"`

	Weights              domain.UtilizationWeights `yaml:"weights"`
	TargetCPUUtilization float64                   `yaml:"target_cpu_utilization"`
	LatencyTargetMs      float64                   `yaml:"latency_target_ms"`
	ScaleUpThreshold     float64                   `yaml:"scale_up_threshold"`
	ScaleDownThreshold   float64                   `yaml:"scale_down_threshold"`

	StabilizationPeriod duration `yaml:"stabilization_period"`
	Cooldown            duration `yaml:"cooldown"`
	DeferDuration       duration `yaml:"defer_duration"`

	Rules              []ruleDoc                  `yaml:"rules"`
	VerificationChecks []domain.VerificationCheck `yaml:"verification_checks"`
}

func (doc *blueprintDoc) toDomain() *domain.Blueprint {
	bp := &domain.Blueprint{
		Service:              doc.Service,
		Priority:             doc.Priority,
		MinReplicas:          doc.MinReplicas,
		MaxReplicas:          doc.MaxReplicas,
		Weights:              doc.Weights,
		TargetCPUUtilization: doc.TargetCPUUtilization,
		LatencyTargetMs:      doc.LatencyTargetMs,
		ScaleUpThreshold:     doc.ScaleUpThreshold,
		ScaleDownThreshold:   doc.ScaleDownThreshold,
		StabilizationPeriod:  time.Duration(doc.StabilizationPeriod),
		Cooldown:             time.Duration(doc.Cooldown),
		DeferDuration:        time.Duration(doc.DeferDuration),
		VerificationChecks:   append([]domain.VerificationCheck(nil), doc.VerificationChecks...),
	}
	for _, r := range doc.Rules {
		bp.Rules = append(bp.Rules, domain.Rule{
			Kind:         domain.RuleKind(r.Kind),
			Action:       r.Action,
			Condition:    r.Condition,
			Value:        r.Value,
			Rationale:    r.Rationale,
			Alternatives: r.Alternatives,
			Approvers:    r.Approvers,
			Timeout:      time.Duration(r.Timeout),
		})
	}
	return bp
}

// Parse разбирает один YAML-документ в Blueprint (без валидации — она в Store.Put)
func Parse(data []byte) (*domain.Blueprint, error) {
	var doc blueprintDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("blueprint parse error: %w", err)
	}
	return doc.toDomain(), nil
}

// LoadDir загружает все *.yaml из каталога в Store.
// Невалидные документы логируются и пропускаются (fail closed per-service),
// остальные сервисы продолжают координироваться.
func LoadDir(dir string, store *Store, logger *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("blueprint dir read failed: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := loadFile(path, store); err != nil {
			logger.Error("blueprint load failed, service excluded",
				zap.String("file", path), zap.Error(err))
			continue
		}
		loaded++
	}

	if loaded == 0 {
		return fmt.Errorf("no valid blueprints in %s", dir)
	}
	logger.Info("blueprints loaded", zap.Int("count", loaded))
	return nil
}

func loadFile(path string, store *Store) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	bp, err := Parse(data)
	if err != nil {
		return err
	}
	return store.Put(bp)
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Watch перезагружает Blueprint при изменении файла (policy update на лету).
// Новая версия становится видимой следующему циклу пайплайна.
func Watch(ctx context.Context, dir string, store *Store, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("blueprint watcher init failed: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("blueprint watcher add failed: %w", err)
	}

	go func() {
		defer watcher.Close()
		log := logger.Named("blueprint-watch")

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if !isYAML(event.Name) {
					continue
				}
				if err := loadFile(event.Name, store); err != nil {
					log.Error("blueprint reload failed", zap.String("file", event.Name), zap.Error(err))
					continue
				}
				log.Info("blueprint reloaded", zap.String("file", event.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("blueprint watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}
