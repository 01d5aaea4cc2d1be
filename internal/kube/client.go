// Package kube builds cluster clients bound to an explicit kubeconfig context.
//
// The context is always passed in; nothing here reads or writes the
// kubeconfig's current-context, so concurrent runs against different
// profiles do not interfere.
package kube

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ApplicationGVK is the Argo CD Application kind.
var ApplicationGVK = schema.GroupVersionKind{Group: "argoproj.io", Version: "v1alpha1", Kind: "Application"}

// Target identifies the cluster a component acts on.
type Target struct {
	// Kubeconfig is the kubeconfig path. Empty uses the default loading rules
	// (KUBECONFIG, then ~/.kube/config).
	Kubeconfig string

	// Context is the kubeconfig context name. Empty uses the file's current-context.
	Context string
}

func (t Target) String() string {
	if t.Context == "" {
		return "<current-context>"
	}
	return t.Context
}

// NewScheme returns a scheme with every type shipgate reads or writes.
// Argo CD Applications are handled as unstructured objects.
func NewScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = corev1.AddToScheme(s)
	_ = batchv1.AddToScheme(s)
	_ = apiextensionsv1.AddToScheme(s)
	s.AddKnownTypeWithName(ApplicationGVK, &unstructured.Unstructured{})
	s.AddKnownTypeWithName(ApplicationGVK.GroupVersion().WithKind("ApplicationList"), &unstructured.UnstructuredList{})
	return s
}

// RESTConfig resolves the REST config for a target.
func RESTConfig(t Target) (*rest.Config, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if t.Kubeconfig != "" {
		rules.ExplicitPath = t.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: t.Context}

	cfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("loading kubeconfig for context %s: %w", t, err)
	}
	return cfg, nil
}

// ClientFactory builds a controller-runtime client for a target.
type ClientFactory func(Target) (client.Client, error)

// NewClient is the default ClientFactory.
func NewClient(t Target) (client.Client, error) {
	cfg, err := RESTConfig(t)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cfg, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, fmt.Errorf("creating client for context %s: %w", t, err)
	}
	return c, nil
}

// StaticFactory returns a ClientFactory that always hands out c.
func StaticFactory(c client.Client) ClientFactory {
	return func(Target) (client.Client, error) { return c, nil }
}

// NewClientset builds a typed clientset for a target.
func NewClientset(t Target) (kubernetes.Interface, error) {
	cfg, err := RESTConfig(t)
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset for context %s: %w", t, err)
	}
	return cs, nil
}
