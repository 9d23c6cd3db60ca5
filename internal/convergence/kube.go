package convergence

import (
	"context"
	"fmt"

	"github.com/systmms/secretsync/internal/config"
	"github.com/systmms/secretsync/internal/logging"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// RESTConfig loads cluster access from an explicit kubeconfig, $KUBECONFIG,
// ~/.kube/config, or the in-cluster service account, in that order.
func RESTConfig(kubeconfig, kubeContext string) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}

	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
	}
	return restCfg, nil
}

// NewFromConfig builds a Validator against the configured cluster
func NewFromConfig(cfg config.ConvergenceConfig, concurrency int, logger *logging.Logger) (*Validator, error) {
	restCfg, err := RESTConfig(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		return nil, err
	}

	dyn, err := dynamic.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}
	core, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	return New(Options{
		Dynamic:     dyn,
		Core:        core,
		APIVersion:  cfg.APIVersion,
		Namespace:   cfg.Namespace,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		Concurrency: concurrency,
		Logger:      logger,
	}), nil
}

// Ping returns the cluster's server version
func (v *Validator) Ping(ctx context.Context) (string, error) {
	if v.core == nil {
		return "", fmt.Errorf("no kubernetes client configured")
	}
	info, err := v.core.Discovery().ServerVersion()
	if err != nil {
		return "", err
	}
	return info.GitVersion, nil
}
