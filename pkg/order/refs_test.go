package order

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chazu/kapply/pkg/manifest"
)

func refIDs(refs []manifest.ObjectRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID())
	}
	return out
}

func TestReferencesStatefulSet(t *testing.T) {
	descs := parse(t, `
apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: db
  namespace: data
spec:
  serviceName: db-headless
  template:
    spec:
      serviceAccountName: db
      imagePullSecrets:
      - name: registry
      initContainers:
      - name: init
        image: busybox
        env:
        - name: PASSWORD
          valueFrom:
            secretKeyRef:
              name: db-password
              key: password
      containers:
      - name: db
        image: postgres
        envFrom:
        - configMapRef:
            name: db-env
      volumes:
      - name: conf
        configMap:
          name: db-conf
      - name: certs
        projected:
          sources:
          - secret:
              name: db-certs
      - name: scratch
        persistentVolumeClaim:
          claimName: scratch
  volumeClaimTemplates:
  - metadata:
      name: data
    spec:
      storageClassName: fast
`)

	assert.ElementsMatch(t, []string{
		"data:ConfigMap/db-conf",
		"data:Secret/db-certs",
		"data:PersistentVolumeClaim/scratch",
		"data:Secret/db-password",
		"data:ConfigMap/db-env",
		"data:Secret/registry",
		"data:ServiceAccount/db",
		"data:Service/db-headless",
		"<cluster>:StorageClass/fast",
	}, refIDs(References(descs[0])))
}

func TestReferencesCronJob(t *testing.T) {
	descs := parse(t, `
apiVersion: batch/v1
kind: CronJob
metadata:
  name: backup
  namespace: ops
spec:
  schedule: "0 * * * *"
  jobTemplate:
    spec:
      template:
        spec:
          priorityClassName: low
          containers:
          - name: backup
            image: restic
            env:
            - name: REPO
              valueFrom:
                configMapKeyRef:
                  name: backup-settings
                  key: repo
`)
	assert.ElementsMatch(t, []string{
		"ops:ConfigMap/backup-settings",
		"<cluster>:PriorityClass/low",
	}, refIDs(References(descs[0])))
}

func TestReferencesStorageAndRBAC(t *testing.T) {
	descs := parse(t, `
apiVersion: v1
kind: PersistentVolumeClaim
metadata:
  name: claim
  namespace: app
spec:
  volumeName: pv-1
  storageClassName: slow
---
apiVersion: rbac.authorization.k8s.io/v1
kind: RoleBinding
metadata:
  name: read
  namespace: app
subjects:
- kind: ServiceAccount
  name: reader
- kind: ServiceAccount
  name: auditor
  namespace: audit
- kind: User
  name: jane
roleRef:
  apiGroup: rbac.authorization.k8s.io
  kind: Role
  name: reader
---
apiVersion: rbac.authorization.k8s.io/v1
kind: ClusterRoleBinding
metadata:
  name: view
roleRef:
  apiGroup: rbac.authorization.k8s.io
  kind: ClusterRole
  name: view
`)

	assert.ElementsMatch(t, []string{"<cluster>:PersistentVolume/pv-1", "<cluster>:StorageClass/slow"}, refIDs(References(descs[0])))
	assert.ElementsMatch(t, []string{"app:ServiceAccount/reader", "audit:ServiceAccount/auditor", "app:Role/reader"}, refIDs(References(descs[1])))
	assert.ElementsMatch(t, []string{"<cluster>:ClusterRole/view"}, refIDs(References(descs[2])))
}

func TestReferencesIngressRules(t *testing.T) {
	descs := parse(t, `
apiVersion: networking.k8s.io/v1
kind: Ingress
metadata:
  name: site
  namespace: web
spec:
  rules:
  - host: example.com
    http:
      paths:
      - path: /
        pathType: Prefix
        backend:
          service:
            name: frontend
            port:
              number: 80
      - path: /api
        pathType: Prefix
        backend:
          service:
            name: api
            port:
              name: http
`)
	assert.ElementsMatch(t, []string{"web:Service/frontend", "web:Service/api"}, refIDs(References(descs[0])))
}

func TestReferencesMalformedSpec(t *testing.T) {
	descs := parse(t, `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: broken
spec:
  template:
    spec:
      containers: "not-a-list"
`)
	assert.Empty(t, References(descs[0]))
}
