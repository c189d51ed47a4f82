package mcpserver

// TrustModel describes for LLM consumers what notebook trust means and how
// the tools of this server change it.
const TrustModel = `# Notebook Trust Model

A notebook is **trusted** when its signature is present in the local trust
store. Output of a trusted notebook (HTML, JavaScript, SVG) may be rendered;
output of an untrusted notebook must be shown as inert text.

## Signatures

- The signature is a keyed digest of the notebook's canonical form under the
  store's secret and algorithm (default ` + "`sha256`" + `).
- The per-cell ` + "`metadata.trusted`" + ` flags and any ` + "`metadata.signature`" + ` field are
  not part of the signed content. A signature embedded in the file never makes
  a notebook trusted.
- Any other edit (source, outputs, metadata) changes the signature, so an
  edited notebook is untrusted until signed again.

## Tools

| Tool | Effect |
|---|---|
| ` + "`check_notebook_trust`" + ` | Read-only. Reports trusted or untrusted. |
| ` + "`sign_notebook`" + ` | Records the notebook as trusted. Only sign notebooks whose output the user has reviewed. |
| ` + "`unsign_notebook`" + ` | Removes the signature. A no-op for untrusted notebooks. |
| ` + "`trust_status`" + ` | Lists every notebook in a folder with its trust state. |

## Paths

Paths are relative to the workspace root, use forward slashes and end with
` + "`.ipynb`" + `. Hidden directories such as ` + "`.ipynb_checkpoints`" + ` are skipped.
`
